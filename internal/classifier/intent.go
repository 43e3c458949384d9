package classifier

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/xaenox/chief-of-staff/internal/models"
)

const intentPrompt = `You are a productivity assistant AI. Analyze the user message and determine:
1. Primary intent (create_task, schedule, query, update, general_chat)
2. Any tasks mentioned or to be created
3. Any projects referenced
4. Priority level if mentioned
5. Due dates or time references
6. Actions to take (create_task, schedule_optimization, priority_update, deadline_check)

Respond with JSON only, using exactly this structure:
{
  "primaryAction": "create_task|schedule|query|update|general_chat",
  "confidence": 0.0-1.0,
  "extractedTasks": [{"title": "...", "description": "...", "priority": "low|medium|high|urgent", "dueDate": "RFC3339 or text", "estimatedDuration": minutes, "project": "..."}],
  "extractedProjects": [{"name": "...", "description": "..."}],
  "timeReferences": ["..."],
  "actions": ["action1", "action2"]
}`

type IntentExtractor struct {
	delegate Delegate
	model    string
	logger   *zap.Logger
}

func NewIntentExtractor(delegate Delegate, model string, logger *zap.Logger) *IntentExtractor {
	return &IntentExtractor{
		delegate: delegate,
		model:    model,
		logger:   logger,
	}
}

// Extract never fails: any delegate or parse error yields models.DefaultIntent.
func (e *IntentExtractor) Extract(ctx context.Context, message string) models.Intent {
	resp, err := e.delegate.Run(ctx, e.model, Request{
		Messages: []Message{
			{Role: RoleSystem, Content: intentPrompt},
			{Role: RoleUser, Content: message},
		},
		MaxTokens:   512,
		Temperature: 0.1,
	})
	if err != nil {
		e.logger.Error("Failed to extract intent", zap.Error(err))
		return models.DefaultIntent()
	}

	intent, err := parseIntent(resp.Response)
	if err != nil {
		e.logger.Error("Failed to parse intent response",
			zap.Error(err),
			zap.String("response", resp.Response))
		return models.DefaultIntent()
	}
	return intent
}

type rawIntent struct {
	PrimaryAction     string                    `json:"primaryAction"`
	Confidence        *float64                  `json:"confidence"`
	ExtractedTasks    []models.ExtractedTask    `json:"extractedTasks"`
	ExtractedProjects []models.ExtractedProject `json:"extractedProjects"`
	TimeReferences    []string                  `json:"timeReferences"`
	Actions           []string                  `json:"actions"`
}

func parseIntent(response string) (models.Intent, error) {
	body := ExtractJSON(response)
	if body == "" {
		return models.Intent{}, errors.New("response contains no JSON object")
	}
	var raw rawIntent
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return models.Intent{}, err
	}

	intent := models.DefaultIntent()
	intent.PrimaryAction, _ = models.ParseAction(raw.PrimaryAction)
	if raw.Confidence != nil {
		intent.Confidence = clamp(*raw.Confidence, 0, 1)
	}
	for _, t := range raw.ExtractedTasks {
		if t.Title != "" {
			intent.ExtractedTasks = append(intent.ExtractedTasks, t)
		}
	}
	for _, p := range raw.ExtractedProjects {
		if p.Name != "" {
			intent.ExtractedProjects = append(intent.ExtractedProjects, p)
		}
	}
	if raw.TimeReferences != nil {
		intent.TimeReferences = raw.TimeReferences
	}
	if raw.Actions != nil {
		intent.Actions = raw.Actions
	}
	return intent, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
