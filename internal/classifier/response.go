package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/chief-of-staff/internal/models"
)

const (
	// FallbackReply is used when the delegate fails.
	FallbackReply = "I understand your request and I'm working on it."
	// EmptyReply is used when the delegate answers with nothing.
	EmptyReply = "I understand, let me help you with that."
)

// UserContext is what a reply is grounded on.
type UserContext struct {
	OpenTasks      int
	ActiveProjects int
	WorkingHours   models.WorkingHours
	Timezone       string
	Tone           models.Tone
	Insight        string
	Recent         []*models.ChatMessage
}

// Insight derives a short heuristic hint from the local time and workload.
func Insight(now time.Time, openTasks, activeProjects int) string {
	var insights []string
	hour := now.Hour()
	if hour < 10 {
		insights = append(insights, "Prime focus window - ideal for high-impact planning")
	} else if hour > 15 {
		insights = append(insights, "Energy-conservation window - favor communication and lighter tasks")
	}
	if openTasks > 10 {
		insights = append(insights, "High task volume detected - recommend consolidating related work")
	}
	if activeProjects > 3 {
		insights = append(insights, "Multi-project complexity - suggest a priority matrix review")
	}
	if len(insights) == 0 {
		return "Optimal execution conditions"
	}
	return strings.Join(insights, "; ")
}

type ResponseGenerator struct {
	delegate Delegate
	model    string
	logger   *zap.Logger
}

func NewResponseGenerator(delegate Delegate, model string, logger *zap.Logger) *ResponseGenerator {
	return &ResponseGenerator{
		delegate: delegate,
		model:    model,
		logger:   logger,
	}
}

func systemPrompt(intent models.Intent, uc UserContext) string {
	var thread strings.Builder
	for _, m := range uc.Recent {
		fmt.Fprintf(&thread, "%s: %s\n", m.Type, m.Content)
	}
	tone := uc.Tone
	if tone == "" {
		tone = models.ToneProfessional
	}

	return fmt.Sprintf(`You are an experienced chief of staff. You think strategically, anticipate needs and treat the user's time as their most valuable resource.

Communicate in a %s tone: clear, concise and with context.

Current context:
- Core hours: %s - %s
- Time zone: %s
- Workload: %d open tasks across %d active projects
- Insight: %s
- Detected intent: %s (confidence %.2f)

Conversation thread:
%s
When you take actions, briefly explain why.`,
		tone,
		uc.WorkingHours.Start, uc.WorkingHours.End,
		uc.Timezone,
		uc.OpenTasks, uc.ActiveProjects,
		uc.Insight,
		intent.PrimaryAction, intent.Confidence,
		thread.String())
}

// Generate never fails; delegate errors degrade to FallbackReply.
func (g *ResponseGenerator) Generate(ctx context.Context, message string, intent models.Intent, uc UserContext) string {
	resp, err := g.delegate.Run(ctx, g.model, Request{
		Messages: []Message{
			{Role: RoleSystem, Content: systemPrompt(intent, uc)},
			{Role: RoleUser, Content: message},
		},
		MaxTokens:   300,
		Temperature: 0.7,
	})
	if err != nil {
		g.logger.Error("Failed to generate response", zap.Error(err))
		return FallbackReply
	}
	if reply := strings.TrimSpace(resp.Response); reply != "" {
		return reply
	}
	return EmptyReply
}
