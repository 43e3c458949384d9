// Package agent runs chat turns for a user: persist the message, read its
// intent, dispatch follow-up actions, reply, persist the reply.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/xaenox/chief-of-staff/internal/classifier"
	"github.com/xaenox/chief-of-staff/internal/models"
	"github.com/xaenox/chief-of-staff/internal/notify"
	"github.com/xaenox/chief-of-staff/internal/storage"
)

// ApologyReply is the only thing a user sees when a turn fails.
const ApologyReply = "I apologize, but I encountered an error processing your request. Please try again."

var ErrUnknownAction = errors.New("unknown action")

type IntentExtractor interface {
	Extract(ctx context.Context, message string) models.Intent
}

type ResponseGenerator interface {
	Generate(ctx context.Context, message string, intent models.Intent, uc classifier.UserContext) string
}

// DispatchResult lists the records an action created.
type DispatchResult struct {
	TaskIDs    []string
	ProjectIDs []string
}

// Dispatcher runs the follow-up action named by an intent. Unknown names must
// return an error wrapping ErrUnknownAction.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID, action string, intent models.Intent) (DispatchResult, error)
}

type State string

const (
	StateReceivedMessage   State = "received_message"
	StateIntentExtracted   State = "intent_extracted"
	StateActionsDispatched State = "actions_dispatched"
	StateResponseGenerated State = "response_generated"
	StatePersisted         State = "persisted"
)

type Agent struct {
	store       storage.Storage
	extractor   IntentExtractor
	generator   ResponseGenerator
	dispatcher  Dispatcher
	notifiers   []notify.Notifier
	historySize int
	locks       *userLocks
	now         func() time.Time
	logger      *zap.Logger
}

type Option func(*Agent)

func WithHistorySize(n int) Option {
	return func(a *Agent) { a.historySize = n }
}

func WithNotifiers(notifiers ...notify.Notifier) Option {
	return func(a *Agent) { a.notifiers = append(a.notifiers, notifiers...) }
}

func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

func New(store storage.Storage, extractor IntentExtractor, generator ResponseGenerator, logger *zap.Logger, opts ...Option) *Agent {
	a := &Agent{
		store:       store,
		extractor:   extractor,
		generator:   generator,
		historySize: 5,
		locks:       newUserLocks(),
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetDispatcher wires the action dispatcher. It is separate from New because
// the workflow orchestrator notifies through the agent.
func (a *Agent) SetDispatcher(d Dispatcher) {
	a.dispatcher = d
}

// AddNotifier registers another delivery channel for notifications.
func (a *Agent) AddNotifier(n notify.Notifier) {
	a.notifiers = append(a.notifiers, n)
}

// HandleChat runs one complete turn. It never fails: any error becomes the
// apology message.
func (a *Agent) HandleChat(ctx context.Context, userID, content string) (reply *models.ChatMessage) {
	unlock := a.locks.Lock(userID)
	defer unlock()

	state := StateReceivedMessage
	logger := a.logger.With(zap.String("user_id", userID))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Chat turn panicked",
				zap.Any("panic", r),
				zap.String("state", string(state)))
			reply = a.apology(userID)
		}
	}()

	inbound := &models.ChatMessage{
		UserID:  userID,
		Content: content,
		Type:    models.MessageUser,
	}
	if err := a.store.AppendMessage(ctx, inbound); err != nil {
		logger.Error("Failed to save user message", zap.Error(err))
		return a.apology(userID)
	}

	intent := a.extractor.Extract(ctx, content)
	state = StateIntentExtracted
	logger.Debug("Intent extracted",
		zap.String("primary_action", string(intent.PrimaryAction)),
		zap.Float64("confidence", intent.Confidence),
		zap.Strings("actions", intent.Actions))

	result := a.dispatch(ctx, userID, intent)
	state = StateActionsDispatched

	uc := a.userContext(ctx, userID, inbound.ID)
	text := a.generator.Generate(ctx, content, intent, uc)
	state = StateResponseGenerated

	outbound := &models.ChatMessage{
		UserID:  userID,
		Content: text,
		Type:    models.MessageAssistant,
		Metadata: &models.MessageMetadata{
			ActionType: string(intent.PrimaryAction),
			TaskIDs:    result.TaskIDs,
			ProjectIDs: result.ProjectIDs,
		},
	}
	if err := a.store.AppendMessage(ctx, outbound); err != nil {
		logger.Error("Failed to save assistant message",
			zap.Error(err),
			zap.String("state", string(state)))
		return a.apology(userID)
	}
	state = StatePersisted

	logger.Info("Chat turn completed",
		zap.String("message_id", outbound.ID),
		zap.String("action_type", outbound.Metadata.ActionType),
		zap.Int("tasks_created", len(result.TaskIDs)))
	return outbound
}

func (a *Agent) dispatch(ctx context.Context, userID string, intent models.Intent) DispatchResult {
	var result DispatchResult
	seen := make(map[string]bool, len(intent.Actions))
	for _, action := range intent.Actions {
		if seen[action] {
			continue
		}
		seen[action] = true

		if a.dispatcher == nil {
			a.logger.Warn("No dispatcher configured, skipping action", zap.String("action", action))
			continue
		}
		res, err := a.dispatcher.Dispatch(ctx, userID, action, intent)
		switch {
		case errors.Is(err, ErrUnknownAction):
			a.logger.Warn("Unknown action", zap.String("action", action), zap.String("user_id", userID))
			continue
		case err != nil:
			a.logger.Error("Failed to dispatch action",
				zap.Error(err),
				zap.String("action", action),
				zap.String("user_id", userID))
		}
		result.TaskIDs = append(result.TaskIDs, res.TaskIDs...)
		result.ProjectIDs = append(result.ProjectIDs, res.ProjectIDs...)
	}
	return result
}

// userContext degrades every failed lookup to its zero value.
func (a *Agent) userContext(ctx context.Context, userID, inboundID string) classifier.UserContext {
	logger := a.logger.With(zap.String("user_id", userID))
	uc := classifier.UserContext{}

	profile, err := a.store.GetProfile(ctx, userID)
	if err != nil {
		logger.Warn("Failed to load profile", zap.Error(err))
		profile = models.NewUserProfile(userID, a.now())
	}
	uc.WorkingHours = profile.Preferences.WorkingHours
	uc.Timezone = profile.Preferences.Timezone
	uc.Tone = profile.Preferences.Tone

	if tasks, err := a.store.ListTasks(ctx, models.TaskFilter{UserID: userID, Statuses: models.OpenStatuses}); err != nil {
		logger.Warn("Failed to count open tasks", zap.Error(err))
	} else {
		uc.OpenTasks = len(tasks)
	}

	if projects, err := a.store.ListProjects(ctx, models.ProjectFilter{
		UserID:   userID,
		Statuses: []models.ProjectStatus{models.ProjectActive},
	}); err != nil {
		logger.Warn("Failed to count active projects", zap.Error(err))
	} else {
		uc.ActiveProjects = len(projects)
	}

	if recent, err := a.store.RecentMessages(ctx, userID, a.historySize+1); err != nil {
		logger.Warn("Failed to load recent messages", zap.Error(err))
	} else {
		// The inbound message is passed to the generator separately.
		if n := len(recent); n > 0 && recent[n-1].ID == inboundID {
			recent = recent[:n-1]
		}
		if len(recent) > a.historySize {
			recent = recent[len(recent)-a.historySize:]
		}
		uc.Recent = recent
	}

	uc.Insight = classifier.Insight(a.now().In(profile.Preferences.Location()), uc.OpenTasks, uc.ActiveProjects)
	return uc
}

func (a *Agent) apology(userID string) *models.ChatMessage {
	return &models.ChatMessage{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Content:   ApologyReply,
		Timestamp: a.now().UTC(),
		Type:      models.MessageAssistant,
	}
}

// ListTasks returns the user's tasks as stored, newest first.
func (a *Agent) ListTasks(ctx context.Context, userID string) ([]*models.Task, error) {
	return a.store.ListTasks(ctx, models.TaskFilter{UserID: userID})
}

// Notify records a workflow notification in the conversation and pushes it to
// every registered channel. Delivery failures are logged only.
func (a *Agent) Notify(ctx context.Context, n models.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = a.now().UTC()
	}
	msg := &models.ChatMessage{
		UserID:    n.UserID,
		Content:   n.Message,
		Timestamp: n.CreatedAt,
		Type:      models.MessageAssistant,
		Metadata:  &models.MessageMetadata{ActionType: n.Kind},
	}
	if err := a.store.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("saving notification: %w", err)
	}

	for _, notifier := range a.notifiers {
		if err := notifier.Notify(ctx, n); err != nil {
			a.logger.Warn("Failed to deliver notification",
				zap.Error(err),
				zap.String("user_id", n.UserID),
				zap.String("kind", n.Kind))
		}
	}
	return nil
}
