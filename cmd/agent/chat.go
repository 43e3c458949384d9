package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xaenox/chief-of-staff/internal/api"
	"github.com/xaenox/chief-of-staff/internal/models"
	"github.com/xaenox/chief-of-staff/internal/wsclient"
)

var (
	chatServer string
	chatUser   string
	chatRetry  = wsclient.DefaultRetryPolicy()
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a running agent over its websocket channel",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatServer, "server", "s", "http://localhost:8080", "agent server url")
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", "", "user id to chat as")
	chatCmd.Flags().DurationVar(&chatRetry.Delay, "retry-delay", chatRetry.Delay, "delay between reconnect attempts")
	chatCmd.Flags().IntVar(&chatRetry.MaxAttempts, "max-attempts", chatRetry.MaxAttempts, "consecutive failed connects before giving up (0 retries forever)")
	_ = chatCmd.MarkFlagRequired("user")
}

func runChat(cmd *cobra.Command, args []string) error {
	_, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	out := cmd.OutOrStdout()
	client, err := wsclient.New(chatServer, chatUser, chatRetry, logger,
		wsclient.OnConnect(func() { fmt.Fprintln(out, "connected, type a message (Ctrl+D to quit)") }),
		wsclient.OnFrame(func(f api.Frame) { printFrame(out, f) }))
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case err := <-done:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line = strings.TrimSpace(line); line == "" {
				continue
			}
			if err := client.Chat(line); err != nil {
				fmt.Fprintln(os.Stderr, "not sent:", err)
			}
		}
	}
}

func printFrame(out io.Writer, f api.Frame) {
	switch f.Type {
	case "chat_response":
		var msg models.ChatMessage
		if err := json.Unmarshal(f.Data, &msg); err == nil {
			fmt.Fprintf(out, "agent: %s\n", msg.Content)
		}
	case "notification":
		var n models.Notification
		if err := json.Unmarshal(f.Data, &n); err == nil {
			fmt.Fprintf(out, "🔔 %s\n", n.Message)
		}
	case "error":
		fmt.Fprintf(out, "error: %s\n", f.Message)
	default:
		fmt.Fprintf(out, "%s\n", f.Type)
	}
}
