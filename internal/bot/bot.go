// Package bot is the Telegram channel: free text runs a chat turn, commands
// read the task list, and workflow notifications are delivered to the
// matching private chat.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/xaenox/chief-of-staff/internal/models"
	"github.com/xaenox/chief-of-staff/internal/storage"
)

const historySize = 5

// Sender is the part of the Telegram API the bot writes through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Session interface {
	HandleChat(ctx context.Context, userID, content string) *models.ChatMessage
	ListTasks(ctx context.Context, userID string) ([]*models.Task, error)
}

type Bot struct {
	api     *tgbotapi.BotAPI
	sender  Sender
	session Session
	storage storage.Storage
	logger  *zap.Logger
	now     func() time.Time
}

func New(token string, session Session, storage storage.Storage, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := NewWithSender(api, session, storage, logger)
	b.api = api
	return b, nil
}

// NewWithSender builds a bot that cannot poll for updates, only handle
// messages it is given.
func NewWithSender(sender Sender, session Session, storage storage.Storage, logger *zap.Logger) *Bot {
	return &Bot{
		sender:  sender,
		session: session,
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}
}

// Start polls for updates until ctx is cancelled and waits for in-flight
// handlers before returning.
func (b *Bot) Start(ctx context.Context) error {
	if b.api == nil {
		return fmt.Errorf("bot has no Telegram connection")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	handlers := conc.NewWaitGroup()
	defer handlers.Wait()

	b.logger.Info("Telegram bot started", zap.String("username", b.api.Self.UserName))
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			message := update.Message
			handlers.Go(func() { b.HandleMessage(ctx, message) })
		}
	}
}

func userID(from *tgbotapi.User) string {
	return strconv.FormatInt(from.ID, 10)
}

func (b *Bot) HandleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}
	if strings.TrimSpace(content) == "" {
		b.sendMessage(message.Chat.ID, "I can only read text for now. Tell me what you need done.")
		return
	}

	reply := b.session.HandleChat(ctx, userID(message.From), content)

	msg := tgbotapi.NewMessage(message.Chat.ID, reply.Content)
	msg.ReplyToMessageID = message.MessageID
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send chat reply",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "tasks":
		b.handleTasks(ctx, message)
	case "history":
		b.handleHistory(ctx, message)
	case "deadlines":
		b.handleDeadlines(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Welcome! I'm your chief of staff. 📋
Tell me what's on your plate in plain words and I'll turn it into tasks, keep an eye on deadlines and suggest how to plan your day.

Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/tasks - Show your open tasks
/deadlines - Show tasks due this week
/history - Show our recent conversation

Anything else you send is read as a request, for example:
- Add a high priority task to send the board deck by 2026-10-23
- What should I focus on today?`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleTasks(ctx context.Context, message *tgbotapi.Message) {
	tasks, err := b.session.ListTasks(ctx, userID(message.From))
	if err != nil {
		b.logger.Error("Failed to list tasks",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve your tasks. Please try again later.")
		return
	}

	var open []*models.Task
	for _, t := range tasks {
		if t.IsOpen() {
			open = append(open, t)
		}
	}
	if len(open) == 0 {
		b.sendMessage(message.Chat.ID, "You don't have any open tasks.")
		return
	}

	b.sendMarkdown(message.Chat.ID, "*Your open tasks:*\n"+formatTasks(open))
}

func (b *Bot) handleDeadlines(ctx context.Context, message *tgbotapi.Message) {
	weekEnd := b.now().Add(7 * 24 * time.Hour)
	tasks, err := b.storage.ListTasks(ctx, models.TaskFilter{
		UserID:    userID(message.From),
		Statuses:  models.OpenStatuses,
		DueBefore: &weekEnd,
	})
	if err != nil {
		b.logger.Error("Failed to list deadlines",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't check your deadlines.")
		return
	}

	if len(tasks) == 0 {
		b.sendMessage(message.Chat.ID, "Nothing is due in the next 7 days.")
		return
	}

	b.sendMarkdown(message.Chat.ID, "*Due this week:*\n"+formatTasks(tasks))
}

func (b *Bot) handleHistory(ctx context.Context, message *tgbotapi.Message) {
	messages, err := b.storage.RecentMessages(ctx, userID(message.From), historySize)
	if err != nil {
		b.logger.Error("Failed to get user messages",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve your message history.")
		return
	}

	if len(messages) == 0 {
		b.sendMessage(message.Chat.ID, "You don't have any messages yet.")
		return
	}

	response := "*Our recent messages:*\n\n"
	for _, msg := range messages {
		who := "You"
		if msg.Type == models.MessageAssistant {
			who = "Me"
		}
		response += fmt.Sprintf("*%s*\n_%s_\n\n", escapeMarkdown(who), escapeMarkdown(msg.Content))
	}

	b.sendMarkdown(message.Chat.ID, response)
}

// Notify implements notify.Notifier. Users who did not come from Telegram
// have non-numeric ids and are skipped.
func (b *Bot) Notify(ctx context.Context, n models.Notification) error {
	chatID, err := strconv.ParseInt(n.UserID, 10, 64)
	if err != nil {
		return nil
	}
	msg := tgbotapi.NewMessage(chatID, "🔔 "+n.Message)
	if _, err := b.sender.Send(msg); err != nil {
		return fmt.Errorf("sending notification to chat %d: %w", chatID, err)
	}
	return nil
}

func formatTasks(tasks []*models.Task) string {
	var sb strings.Builder
	for _, t := range tasks {
		line := fmt.Sprintf("• %s \\[%s\\]", escapeMarkdown(t.Title), escapeMarkdown(string(t.Priority)))
		if t.DueDate != nil {
			line += " due " + escapeMarkdown(t.DueDate.Format("Mon Jan 2 15:04"))
		}
		for _, tag := range t.Tags {
			line += " " + escapeMarkdown("#"+strings.ReplaceAll(tag, " ", "_"))
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

// escapeMarkdown escapes the characters MarkdownV2 reserves.
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
