package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/chief-of-staff/internal/agent"
	"github.com/xaenox/chief-of-staff/internal/classifier"
	"github.com/xaenox/chief-of-staff/internal/models"
	"github.com/xaenox/chief-of-staff/internal/notify"
	"github.com/xaenox/chief-of-staff/internal/search"
	"github.com/xaenox/chief-of-staff/internal/storage"
	"github.com/xaenox/chief-of-staff/internal/workflow"
)

type stubExtractor struct {
	intent models.Intent
}

func (s stubExtractor) Extract(ctx context.Context, message string) models.Intent {
	return s.intent
}

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, message string, intent models.Intent, uc classifier.UserContext) string {
	return "On it."
}

type offlineDelegate struct{}

func (offlineDelegate) Run(ctx context.Context, model string, req classifier.Request) (classifier.Response, error) {
	return classifier.Response{}, errors.New("offline")
}

type startRecorder struct {
	mu      sync.Mutex
	started []string
}

func (s *startRecorder) Start(ctx context.Context, userID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, userID+"/"+name)
}

type stubSearcher struct {
	err error
}

func (s stubSearcher) Search(ctx context.Context, userID, query string, topK int) ([]search.Match, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []search.Match{{ID: "t1", Score: 0.9, Metadata: map[string]string{"title": query}}}, nil
}

type failingStore struct {
	storage.Storage
}

func (failingStore) ListTasks(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error) {
	return nil, errors.New("pq: connection refused")
}

type panickingStore struct {
	storage.Storage
}

func (panickingStore) ListTasks(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error) {
	panic("nil map write")
}

type fixture struct {
	store       *storage.MemoryStorage
	broadcaster *notify.Broadcaster
	agent       *agent.Agent
	workflows   *startRecorder
	handler     http.Handler
}

func newFixture(t *testing.T, intent models.Intent) *fixture {
	t.Helper()
	store := storage.NewMemoryStorage()
	broadcaster := notify.NewBroadcaster()
	a := agent.New(store, stubExtractor{intent}, stubGenerator{}, zap.NewNop(), agent.WithNotifiers(broadcaster))
	orchestrator := workflow.New(store, offlineDelegate{}, "test", a, zap.NewNop())
	a.SetDispatcher(orchestrator)
	t.Cleanup(orchestrator.Wait)

	recorder := &startRecorder{}
	server := NewServer(a, store, stubSearcher{}, recorder, broadcaster, zap.NewNop())
	return &fixture{store: store, broadcaster: broadcaster, agent: a, workflows: recorder, handler: server.Handler()}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createTaskIntent() models.Intent {
	intent := models.DefaultIntent()
	intent.PrimaryAction = models.ActionCreateTask
	intent.Confidence = 0.92
	intent.ExtractedTasks = []models.ExtractedTask{{Title: "Review Q4 numbers"}}
	intent.TimeReferences = []string{"Friday"}
	intent.Actions = []string{"create_task"}
	return intent
}

func TestChatCreatesTaskEndToEnd(t *testing.T) {
	f := newFixture(t, createTaskIntent())

	rec := f.do(t, http.MethodPost, "/api/chat", map[string]string{
		"userId":  "u1",
		"message": "Create a task to review Q4 numbers by Friday",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	reply := decode[models.ChatMessage](t, rec)
	assert.Equal(t, models.MessageAssistant, reply.Type)
	assert.Equal(t, "On it.", reply.Content)
	assert.NotEmpty(t, reply.ID)
	require.NotNil(t, reply.Metadata)
	assert.Equal(t, "create_task", reply.Metadata.ActionType)
	require.Len(t, reply.Metadata.TaskIDs, 1)

	ctx := context.Background()
	history, err := f.store.RecentMessages(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.MessageUser, history[0].Type)
	assert.Equal(t, "Create a task to review Q4 numbers by Friday", history[0].Content)
	assert.Equal(t, "create_task", history[1].Metadata.ActionType)

	task, err := f.store.GetTask(ctx, "u1", reply.Metadata.TaskIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "Review Q4 numbers", task.Title)
	assert.Contains(t, task.Tags, "finance")
}

func TestChatValidation(t *testing.T) {
	f := newFixture(t, models.DefaultIntent())

	rec := f.do(t, http.MethodPost, "/api/chat", map[string]string{"userId": "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "userId and message are required", decode[errorResponse](t, rec).Error)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTaskLifecycle(t *testing.T) {
	f := newFixture(t, models.DefaultIntent())

	rec := f.do(t, http.MethodPost, "/api/tasks", map[string]any{"userId": "u1", "title": "Draft memo"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.Task](t, rec)
	assert.Equal(t, models.StatusTodo, created.Status)
	assert.Equal(t, models.PriorityMedium, created.Priority)

	rec = f.do(t, http.MethodPatch, "/api/tasks/"+created.ID, map[string]any{"userId": "u1", "status": "in-progress"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[models.Task](t, rec)
	assert.Equal(t, models.StatusInProgress, updated.Status)
	assert.Equal(t, "Draft memo", updated.Title)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	rec = f.do(t, http.MethodGet, "/api/tasks?userId=u1&status=todo,in-progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Task](t, rec), 1)

	rec = f.do(t, http.MethodDelete, "/api/tasks/"+created.ID+"?userId=u1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/tasks?userId=u1", nil)
	assert.Empty(t, decode[[]models.Task](t, rec))

	rec = f.do(t, http.MethodDelete, "/api/tasks/"+created.ID+"?userId=u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTaskErrors(t *testing.T) {
	f := newFixture(t, models.DefaultIntent())

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"list without user", http.MethodGet, "/api/tasks", nil, http.StatusBadRequest},
		{"bad status filter", http.MethodGet, "/api/tasks?userId=u1&status=done", nil, http.StatusBadRequest},
		{"bad due_before", http.MethodGet, "/api/tasks?userId=u1&due_before=friday", nil, http.StatusBadRequest},
		{"create without title", http.MethodPost, "/api/tasks", map[string]any{"userId": "u1"}, http.StatusBadRequest},
		{"create with bad priority", http.MethodPost, "/api/tasks", map[string]any{"userId": "u1", "title": "x", "priority": "p0"}, http.StatusBadRequest},
		{"patch unknown", http.MethodPatch, "/api/tasks/nope", map[string]any{"userId": "u1", "title": "x"}, http.StatusNotFound},
		{"patch without user", http.MethodPatch, "/api/tasks/nope", map[string]any{"title": "x"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestStoreFailureIsHidden(t *testing.T) {
	server := NewServer(nil, failingStore{storage.NewMemoryStorage()}, nil, &startRecorder{}, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/tasks?userId=u1", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestHandlerPanicReturnsGenericError(t *testing.T) {
	server := NewServer(nil, panickingStore{storage.NewMemoryStorage()}, nil, &startRecorder{}, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/tasks?userId=u1", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestProjectsArchiveOnDelete(t *testing.T) {
	f := newFixture(t, models.DefaultIntent())

	rec := f.do(t, http.MethodPost, "/api/projects", map[string]any{"userId": "u1", "name": "Launch"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	project := decode[models.Project](t, rec)
	assert.Equal(t, models.ProjectActive, project.Status)

	rec = f.do(t, http.MethodPatch, "/api/projects/"+project.ID+"?userId=u1", map[string]any{"description": "v2 launch"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Launch", decode[models.Project](t, rec).Name)

	rec = f.do(t, http.MethodDelete, "/api/projects/"+project.ID+"?userId=u1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/projects?userId=u1&status=active", nil)
	assert.Empty(t, decode[[]models.Project](t, rec))

	rec = f.do(t, http.MethodGet, "/api/projects?userId=u1", nil)
	projects := decode[[]models.Project](t, rec)
	require.Len(t, projects, 1)
	assert.Equal(t, models.ProjectArchived, projects[0].Status)
}

func TestProfileMergesPreferences(t *testing.T) {
	f := newFixture(t, models.DefaultIntent())

	rec := f.do(t, http.MethodGet, "/api/profile?userId=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "09:00", decode[models.UserProfile](t, rec).Preferences.WorkingHours.Start)

	rec = f.do(t, http.MethodPost, "/api/profile", map[string]any{
		"userId":      "u1",
		"preferences": map[string]any{"timezone": "Europe/Berlin", "tone": "friendly"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	profile := decode[models.UserProfile](t, rec)
	assert.Equal(t, "Europe/Berlin", profile.Preferences.Timezone)
	assert.Equal(t, models.ToneFriendly, profile.Preferences.Tone)
	assert.Equal(t, "17:00", profile.Preferences.WorkingHours.End)

	rec = f.do(t, http.MethodPost, "/api/profile", map[string]any{
		"userId":      "u1",
		"preferences": map[string]any{"timezone": "Mars/Olympus"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/profile/schedule?userId=u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearch(t *testing.T) {
	f := newFixture(t, models.DefaultIntent())

	rec := f.do(t, http.MethodPost, "/api/search", map[string]any{"userId": "u1", "query": "budget"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[searchResponse](t, rec)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "budget", resp.Results[0].Metadata["title"])

	rec = f.do(t, http.MethodPost, "/api/search", map[string]any{"userId": "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	degraded := NewServer(nil, f.store, stubSearcher{err: errors.New("index down")}, &startRecorder{}, nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"userId":"u1","query":"x"}`))
	rr := httptest.NewRecorder()
	degraded.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"results":[]}`, rr.Body.String())
}

func TestStartWorkflow(t *testing.T) {
	f := newFixture(t, models.DefaultIntent())

	rec := f.do(t, http.MethodPost, "/api/workflows", map[string]any{"userId": "u1", "workflow": "deadline_check"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"u1/deadline_check"}, f.workflows.started)

	rec = f.do(t, http.MethodPost, "/api/workflows", map[string]any{"userId": "u1", "workflow": "world_peace"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndCORS(t *testing.T) {
	f := newFixture(t, models.DefaultIntent())

	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]any](t, rec)["status"])

	req := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rr.Body.String())
}

func TestPlainOptionsAnsweredWithCORSHeaders(t *testing.T) {
	f := newFixture(t, models.DefaultIntent())

	for _, path := range []string{"/api/tasks", "/api/tasks/t1", "/health", "/nowhere"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code, path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"), path)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch, path)
		assert.Equal(t, "Content-Type, Authorization", rec.Header().Get("Access-Control-Allow-Headers"), path)
		assert.Empty(t, rec.Body.String(), path)
	}
}

func dialWS(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?userId=" + userID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestWebsocketChannel(t *testing.T) {
	f := newFixture(t, createTaskIntent())
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	conn := dialWS(t, srv, "u1")

	require.NoError(t, conn.WriteJSON(Frame{Type: "ping"}))
	assert.Equal(t, "pong", readFrame(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Frame{Type: "dance"}))
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "Unknown message type", frame.Message)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	frame = readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "Invalid message format", frame.Message)

	require.NoError(t, conn.WriteJSON(Frame{Type: "chat", Content: "Create a task to review Q4 numbers"}))
	frame = readFrame(t, conn)
	require.Equal(t, "chat_response", frame.Type)
	var reply models.ChatMessage
	require.NoError(t, json.Unmarshal(frame.Data, &reply))
	assert.Equal(t, "create_task", reply.Metadata.ActionType)

	require.NoError(t, conn.WriteJSON(Frame{Type: "get_tasks"}))
	frame = readFrame(t, conn)
	require.Equal(t, "tasks", frame.Type)
	var tasks []models.Task
	require.NoError(t, json.Unmarshal(frame.Data, &tasks))
	assert.Len(t, tasks, 1)
}

func TestWebsocketPushesNotifications(t *testing.T) {
	f := newFixture(t, models.DefaultIntent())
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	conn := dialWS(t, srv, "u1")
	require.Eventually(t, func() bool { return f.broadcaster.Subscribers("u1") == 1 }, time.Second, 5*time.Millisecond)

	err := f.agent.Notify(context.Background(), models.Notification{UserID: "u1", Kind: "deadline_check", Message: "1 task due soon"})
	require.NoError(t, err)

	frame := readFrame(t, conn)
	require.Equal(t, "notification", frame.Type)
	var n models.Notification
	require.NoError(t, json.Unmarshal(frame.Data, &n))
	assert.Equal(t, "1 task due soon", n.Message)

	conn.Close()
	assert.Eventually(t, func() bool { return f.broadcaster.Subscribers("u1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestWebsocketRequiresUser(t *testing.T) {
	f := newFixture(t, models.DefaultIntent())
	rec := f.do(t, http.MethodGet, "/api/ws", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
