package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/completion"
	"github.com/fyrsmithlabs/taskd/internal/docstore"
	"github.com/fyrsmithlabs/taskd/internal/knowledge"
	"github.com/fyrsmithlabs/taskd/internal/pipeline"
	"github.com/fyrsmithlabs/taskd/internal/roles"
	"github.com/fyrsmithlabs/taskd/internal/steps"
	"github.com/fyrsmithlabs/taskd/internal/task"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// blockingClient parks the first completion call until released so
// tests can observe a run in flight.
type blockingClient struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newBlockingClient() *blockingClient {
	return &blockingClient{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (b *blockingClient) Complete(ctx context.Context, req completion.Request) (string, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return "1. touch notes.txt", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type apiEnv struct {
	server *Server
	tasks  task.Store
	docs   docstore.Store
	orc    *pipeline.Orchestrator
}

func setupTestServer(t *testing.T, client completion.Client) *apiEnv {
	t.Helper()
	base := t.TempDir()

	tasks, err := task.NewStore(task.Config{Dir: filepath.Join(base, "tasks")}, nil, zap.NewNop())
	require.NoError(t, err)

	docsCfg := docstore.DefaultConfig()
	docsCfg.Dir = filepath.Join(base, "docs")
	docs, err := docstore.NewStore(docsCfg, nil, zap.NewNop())
	require.NoError(t, err)

	recorder, err := knowledge.NewRecorder(docs, zap.NewNop())
	require.NoError(t, err)

	files, err := docstore.NewFileWriter(filepath.Join(base, "workspace"), zap.NewNop())
	require.NoError(t, err)

	executor, err := steps.NewExecutor(roles.NewResolver(), client, files, steps.Config{}, zap.NewNop())
	require.NoError(t, err)

	orc, err := pipeline.NewOrchestrator(pipeline.Deps{
		Tasks:    tasks,
		Docs:     docs,
		Recorder: recorder,
		Executor: executor,
		Client:   client,
		Files:    files,
	}, pipeline.Config{}, zap.NewNop())
	require.NoError(t, err)

	server, err := NewServer(Deps{Tasks: tasks, Docs: docs, Orc: orc}, zap.NewNop(), nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, tasks.Close())
		require.NoError(t, docs.Close())
	})

	return &apiEnv{server: server, tasks: tasks, docs: docs, orc: orc}
}

func doRequest(t *testing.T, s *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decodeTask(t *testing.T, rec *httptest.ResponseRecorder) *task.Task {
	t.Helper()
	var tk task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tk))
	return &tk
}

func TestNewServer(t *testing.T) {
	t.Run("creates server with valid deps", func(t *testing.T) {
		env := setupTestServer(t, completion.NewScripted())
		assert.NotNil(t, env.server.echo)
		assert.Equal(t, "localhost", env.server.config.Host)
		assert.Equal(t, 8080, env.server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		env := setupTestServer(t, completion.NewScripted())
		_, err := NewServer(Deps{Tasks: env.tasks, Docs: env.docs, Orc: env.orc}, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when a dep is missing", func(t *testing.T) {
		env := setupTestServer(t, completion.NewScripted())

		_, err := NewServer(Deps{Docs: env.docs, Orc: env.orc}, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "task store cannot be nil")

		_, err = NewServer(Deps{Tasks: env.tasks, Orc: env.orc}, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "document store cannot be nil")

		_, err = NewServer(Deps{Tasks: env.tasks, Docs: env.docs}, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "orchestrator cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	env := setupTestServer(t, completion.NewScripted())

	rec := doRequest(t, env.server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t, completion.NewScripted())

	rec := doRequest(t, env.server, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestSubmitTask(t *testing.T) {
	t.Run("creates a submitted task", func(t *testing.T) {
		env := setupTestServer(t, completion.NewScripted())

		rec := doRequest(t, env.server, http.MethodPost, "/api/v1/tasks", SubmitTaskRequest{
			Title:       "Add a health endpoint",
			Description: "Expose GET /health.",
			UseEnhanced: true,
			CreatePR:    true,
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		tk := decodeTask(t, rec)
		assert.NotEmpty(t, tk.ID)
		assert.Equal(t, task.StatusSubmitted, tk.Status)
		assert.True(t, tk.UseEnhanced)
		assert.True(t, tk.CreatePR)

		stored, err := env.tasks.Get(context.Background(), tk.ID)
		require.NoError(t, err)
		assert.Equal(t, "Add a health endpoint", stored.Title)
	})

	t.Run("rejects missing title", func(t *testing.T) {
		env := setupTestServer(t, completion.NewScripted())

		rec := doRequest(t, env.server, http.MethodPost, "/api/v1/tasks", SubmitTaskRequest{
			Description: "no title",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "title field is required")
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		env := setupTestServer(t, completion.NewScripted())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader("{not json"))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		env.server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListTasks(t *testing.T) {
	env := setupTestServer(t, completion.NewScripted())

	for _, title := range []string{"first", "second"} {
		rec := doRequest(t, env.server, http.MethodPost, "/api/v1/tasks", SubmitTaskRequest{Title: title})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doRequest(t, env.server, http.MethodGet, "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TaskListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Tasks, 2)

	// Same-second submissions tie on timestamp, so order is only
	// stable per id; check membership instead.
	titles := []string{resp.Tasks[0].Title, resp.Tasks[1].Title}
	assert.ElementsMatch(t, []string{"first", "second"}, titles)
}

func TestGetTask(t *testing.T) {
	env := setupTestServer(t, completion.NewScripted())

	created := doRequest(t, env.server, http.MethodPost, "/api/v1/tasks", SubmitTaskRequest{Title: "lookup"})
	require.Equal(t, http.StatusCreated, created.Code)
	id := decodeTask(t, created).ID

	rec := doRequest(t, env.server, http.MethodGet, "/api/v1/tasks/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "lookup", decodeTask(t, rec).Title)

	rec = doRequest(t, env.server, http.MethodGet, "/api/v1/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "NOT_FOUND", errResp.Code)
}

func TestExecuteTask(t *testing.T) {
	env := setupTestServer(t, completion.NewScripted(
		"Touch notes.txt.",
		"1. write notes.txt",
		"remember the milk",
		"PASS",
	))

	created := doRequest(t, env.server, http.MethodPost, "/api/v1/tasks", SubmitTaskRequest{Title: "run me"})
	require.Equal(t, http.StatusCreated, created.Code)
	id := decodeTask(t, created).ID

	rec := doRequest(t, env.server, http.MethodPost, "/api/v1/tasks/"+id+"/execute", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		tk, err := env.tasks.Get(context.Background(), id)
		return err == nil && tk.Status == task.StatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return !env.orc.Running(id)
	}, time.Second, 10*time.Millisecond)
}

func TestExecuteTaskUnknown(t *testing.T) {
	env := setupTestServer(t, completion.NewScripted())

	rec := doRequest(t, env.server, http.MethodPost, "/api/v1/tasks/missing/execute", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteTaskConflict(t *testing.T) {
	client := newBlockingClient()
	env := setupTestServer(t, client)

	created := doRequest(t, env.server, http.MethodPost, "/api/v1/tasks", SubmitTaskRequest{Title: "contended"})
	require.Equal(t, http.StatusCreated, created.Code)
	id := decodeTask(t, created).ID

	rec := doRequest(t, env.server, http.MethodPost, "/api/v1/tasks/"+id+"/execute", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	<-client.started

	rec = doRequest(t, env.server, http.MethodPost, "/api/v1/tasks/"+id+"/execute", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "TASK_RUNNING", errResp.Code)

	close(client.release)
	require.Eventually(t, func() bool {
		return !env.orc.Running(id)
	}, 3*time.Second, 10*time.Millisecond)
}

func TestCancelTask(t *testing.T) {
	env := setupTestServer(t, completion.NewScripted())

	created := doRequest(t, env.server, http.MethodPost, "/api/v1/tasks", SubmitTaskRequest{Title: "cancel me"})
	require.Equal(t, http.StatusCreated, created.Code)
	id := decodeTask(t, created).ID

	rec := doRequest(t, env.server, http.MethodPost, "/api/v1/tasks/"+id+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, task.StatusCancelled, decodeTask(t, rec).Status)

	// A terminal task cannot be cancelled again.
	rec = doRequest(t, env.server, http.MethodPost, "/api/v1/tasks/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCollectionEndpoints(t *testing.T) {
	ctx := context.Background()
	env := setupTestServer(t, completion.NewScripted())

	_, err := env.docs.AddDocument(ctx, "agent_Developer", "prefer table driven tests in Go", map[string]any{
		"type": "learning",
		"tags": []string{"testing"},
	})
	require.NoError(t, err)
	_, err = env.docs.AddDocument(ctx, "agent_Developer", "echo handlers return errors", map[string]any{
		"type": "learning",
		"tags": []string{"http"},
	})
	require.NoError(t, err)

	t.Run("lists collections", func(t *testing.T) {
		rec := doRequest(t, env.server, http.MethodGet, "/api/v1/collections", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp CollectionsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Count)
		assert.Equal(t, []string{"agent_Developer"}, resp.Collections)
	})

	t.Run("queries a collection", func(t *testing.T) {
		rec := doRequest(t, env.server, http.MethodGet, "/api/v1/collections/agent_Developer/query?q=table+driven+tests&limit=1", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp QueryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, 1, resp.Count)
		assert.Contains(t, resp.Results[0].Content, "table driven")
		assert.Greater(t, resp.Results[0].Score, 0.0)
	})

	t.Run("pages documents", func(t *testing.T) {
		rec := doRequest(t, env.server, http.MethodGet, "/api/v1/collections/agent_Developer/documents?limit=1&page=2", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var page docstore.Page
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		assert.Equal(t, 2, page.TotalCount)
		assert.Equal(t, 2, page.Page)
		assert.Equal(t, 2, page.TotalPages)
		assert.False(t, page.HasMore)
		require.Len(t, page.Documents, 1)
		assert.Contains(t, page.Documents[0].Content, "echo handlers")
	})

	t.Run("unknown collection is not found", func(t *testing.T) {
		rec := doRequest(t, env.server, http.MethodGet, "/api/v1/collections/agent_Nobody/query?q=x", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
