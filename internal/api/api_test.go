package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yourusername/unreal-server-manager/internal/archive"
	"github.com/yourusername/unreal-server-manager/internal/config"
	"github.com/yourusername/unreal-server-manager/internal/database"
	"github.com/yourusername/unreal-server-manager/internal/events"
	"github.com/yourusername/unreal-server-manager/internal/logging"
	"github.com/yourusername/unreal-server-manager/internal/metrics"
	"github.com/yourusername/unreal-server-manager/internal/supervisor"
	"github.com/yourusername/unreal-server-manager/internal/websocket"
)

type testEnv struct {
	handler http.Handler
	sup     *supervisor.Supervisor
	servers *config.ServerManager
	hub     *websocket.Hub
	root    string
	removed []string
	wait    func()
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.Security.RateLimit.Enabled = false
	cfg.Storage.ConfigDir = filepath.Join(root, "configs")
	t.Setenv("CONFIG_PATH", filepath.Join(cfg.Storage.ConfigDir, "config.yaml"))

	db, err := database.NewDB(filepath.Join(root, "data", "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	servers, err := config.NewServerManager(cfg.Storage.ConfigDir)
	if err != nil {
		t.Fatalf("failed to create server manager: %v", err)
	}

	activity, err := logging.NewActivityLogger(db.DB, filepath.Join(root, "activity"))
	if err != nil {
		t.Fatalf("failed to create activity logger: %v", err)
	}
	t.Cleanup(func() { activity.Close() })

	bus := events.NewBus()
	t.Cleanup(bus.Close)
	sup := supervisor.New(bus, supervisor.Options{})
	t.Cleanup(func() { sup.ShutdownAll(0) })

	archives := archive.NewManager(db.DB, sup, archive.Options{
		Destinations: []*archive.DestinationConfig{{Type: "local", Path: filepath.Join(root, "archives")}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := websocket.NewHub()
	go hub.Run(ctx)
	go hub.Bridge(ctx, bus.Subscribe(events.Filter{}, 0))

	env := &testEnv{sup: sup, servers: servers, hub: hub, root: root}
	router, wait := SetupRouter(cfg, Services{
		Supervisor:     sup,
		ServerManager:  servers,
		ActivityLogger: activity,
		Recorder:       metrics.NewRecorder(cfg.Metrics, db.DB),
		Archives:       archives,
		Hub:            hub,
		OnRemove: []func(string){func(id string) {
			env.removed = append(env.removed, id)
		}},
	})
	env.handler = router
	env.wait = wait
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
}

func (env *testEnv) createServer(t *testing.T, body map[string]any) string {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/v1/servers", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Config supervisor.ServerConfig `json:"config"`
		Status supervisor.Status       `json:"status"`
	}
	decode(t, rec, &created)
	if created.Status != supervisor.StatusStopped {
		t.Fatalf("expected new server to be stopped, got %s", created.Status)
	}
	return created.Config.ID
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body %v", body)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected security headers to be set")
	}
}

func TestServerCRUD(t *testing.T) {
	env := newTestEnv(t)

	id := env.createServer(t, map[string]any{
		"name":       "Alpha",
		"executable": filepath.Join(env.root, "missing-binary"),
		"profile":    "generic",
		"params":     `-log "-ini:Game=Max Players 8"`,
	})

	if _, err := os.Stat(filepath.Join(env.root, "configs", "servers.yaml")); err != nil {
		t.Fatalf("expected servers.yaml to be written: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/servers", nil)
	var list []map[string]any
	decode(t, rec, &list)
	if len(list) != 1 || list[0]["params"] == "" {
		t.Fatalf("unexpected server list %v", list)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/servers/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	info, err := env.sup.GetServer(id)
	if err != nil {
		t.Fatalf("server not registered: %v", err)
	}
	if got := strings.Join(info.Config.ExtraArgs, "|"); got != "-log|-ini:Game=Max Players 8" {
		t.Fatalf("params not split into args: %q", got)
	}

	rec = env.do(t, http.MethodPut, "/api/v1/servers/"+id, map[string]any{
		"name":       "Beta",
		"executable": filepath.Join(env.root, "missing-binary"),
		"profile":    "generic",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on update, got %d: %s", rec.Code, rec.Body.String())
	}
	if def, _ := env.servers.GetByID(id); def.Name != "Beta" {
		t.Fatalf("expected persisted name Beta, got %q", def.Name)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/servers/"+id+"/activity", nil)
	var activities []map[string]any
	decode(t, rec, &activities)
	if len(activities) != 2 {
		t.Fatalf("expected create and update activities, got %v", activities)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/servers/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", rec.Code)
	}
	if len(env.removed) != 1 || env.removed[0] != id {
		t.Fatalf("expected remove hook for %s, got %v", id, env.removed)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/servers/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestCreateServerValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []map[string]any{
		{"name": "No executable"},
		{"id": "not-a-uuid", "name": "Bad id", "executable": "server"},
		{"name": "Bad params", "executable": "server", "params": `-msg "unterminated`},
		{"name": "Bad port", "executable": "server", "port": 70000},
	}
	for _, body := range cases {
		rec := env.do(t, http.MethodPost, "/api/v1/servers", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %v, got %d: %s", body, rec.Code, rec.Body.String())
		}
	}

	if len(env.sup.ListServers()) != 0 || len(env.servers.GetAll()) != 0 {
		t.Fatalf("rejected servers must not be registered")
	}
}

func TestStartMissingExecutable(t *testing.T) {
	env := newTestEnv(t)
	id := env.createServer(t, map[string]any{
		"name":       "Missing",
		"executable": filepath.Join(env.root, "missing-binary"),
	})

	rec := env.do(t, http.MethodPost, "/api/v1/servers/"+id+"/start", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["kind"] != "executable_not_found" {
		t.Fatalf("expected executable_not_found kind, got %v", body)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/servers/"+id+"/status", nil)
	decode(t, rec, &body)
	if body["status"] != string(supervisor.StatusStopped) {
		t.Fatalf("expected stopped after failed launch, got %v", body["status"])
	}

	rec = env.do(t, http.MethodPost, "/api/v1/servers/"+id+"/stop", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 stopping a stopped server, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/servers/00000000-0000-0000-0000-000000000000/start", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown server, got %d", rec.Code)
	}
}

func TestLogsAndArchives(t *testing.T) {
	env := newTestEnv(t)
	id := env.createServer(t, map[string]any{
		"name":       "Logs",
		"executable": filepath.Join(env.root, "missing-binary"),
	})
	env.do(t, http.MethodPost, "/api/v1/servers/"+id+"/start", nil)

	rec := env.do(t, http.MethodGet, "/api/v1/servers/"+id+"/logs?limit=10", nil)
	var logs struct {
		Lines []map[string]any `json:"lines"`
	}
	decode(t, rec, &logs)
	if len(logs.Lines) == 0 {
		t.Fatalf("expected supervisor log line after failed start")
	}

	rec = env.do(t, http.MethodGet, "/api/v1/servers/"+id+"/logs/search?q=failed+to+start", nil)
	var search struct {
		Total int `json:"total"`
	}
	decode(t, rec, &search)
	if search.Total != 1 {
		t.Fatalf("expected one case-insensitive match, got %d", search.Total)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/servers/"+id+"/logs?filter=regex&q=%5B", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid regex, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/servers/"+id+"/logs/export", nil)
	if !strings.Contains(rec.Body.String(), "Failed to start") {
		t.Fatalf("unexpected export %q", rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/servers/"+id+"/archives", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating archive, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Archives []archive.Record `json:"archives"`
	}
	decode(t, rec, &created)
	if len(created.Archives) != 1 || created.Archives[0].Status != archive.StatusCompleted {
		t.Fatalf("unexpected archives %+v", created.Archives)
	}
	archiveID := created.Archives[0].ID

	rec = env.do(t, http.MethodGet, "/api/v1/archives/"+archiveID+"/download?decompress=true", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Failed to start") {
		t.Fatalf("unexpected download %d %q", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/servers/"+id+"/logs", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 clearing logs, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/v1/servers/"+id+"/archives", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 archiving empty logs, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/archives/"+archiveID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 deleting archive, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/servers/"+id+"/archives", nil)
	var remaining []archive.Record
	decode(t, rec, &remaining)
	if len(remaining) != 0 {
		t.Fatalf("expected no archives after delete, got %d", len(remaining))
	}
}

func TestMetricsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	id := env.createServer(t, map[string]any{
		"name":       "Metrics",
		"executable": filepath.Join(env.root, "missing-binary"),
	})

	rec := env.do(t, http.MethodGet, "/api/v1/servers/"+id+"/metrics", nil)
	var latest map[string]any
	decode(t, rec, &latest)
	if latest["available"] != false {
		t.Fatalf("expected no metrics for a stopped server, got %v", latest)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/servers/"+id+"/metrics/history?since=2h", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for history, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/servers/"+id+"/metrics/history?since=yesterday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad since, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/servers/metrics/latest", nil)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "{}" {
		t.Fatalf("unexpected latest metrics %d %q", rec.Code, rec.Body.String())
	}
}
