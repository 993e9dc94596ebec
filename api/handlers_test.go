package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/gin-gonic/gin"

	"picocontrol/models"
	"picocontrol/project"
	"picocontrol/service"
)

type stubLister struct {
	devices []models.Device
	err     error
}

func (s stubLister) ListDevices(ctx context.Context) ([]models.Device, error) {
	return s.devices, s.err
}

type stubLoader struct{}

func (stubLoader) LoadCommand(image string) string { return "true " + image }

var resources = fstest.MapFS{
	".theia/tasks.json": {Data: []byte(`{"version": "2.0.0", "tasks": [
		{"label": "Run CMake", "type": "shell", "options": {"cwd": "${workspaceFolder}"}, "command": "mkdir -p build"},
		{"label": "Binary build release", "type": "shell", "options": {"cwd": "${workspaceFolder}"}, "command": "true"}
	]}`)},
	"pico-blink/blink/src/blink.c": {Data: []byte("int main() {}\n")},
}

func newTestRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ws := t.TempDir()

	runner := service.NewTaskRunner(nil)
	hub := NewWebSocketHub()
	go hub.Run()
	devices := service.NewDeviceManager(stubLister{devices: []models.Device{{
		ID: "unknown", Label: "blink", Connected: true, Image: "blink.elf", State: "BOOTSEL",
	}}}, nil, nil)
	devices.SetBroadcaster(hub)

	s := &Services{
		Devices:        devices,
		Projects:       project.NewService(project.Options{Resources: resources, Tasks: runner, PreserveComments: true, Root: ws}),
		Tasks:          runner,
		Tooling:        service.NewTooling(runner, stubLoader{}, service.ToolPaths{OpenOCD: "sleep 30 #", Minicom: "sleep 30 #"}, ws, "/dev/null", 115200, nil),
		Hub:            hub,
		Workspace:      ws,
		AllowedOrigins: []string{"http://localhost:3000"},
	}
	router := gin.New()
	SetupRoutes(router, s)
	return router, ws
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, models.APIResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp models.APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: invalid JSON response %q: %v", method, path, w.Body.String(), err)
	}
	return w, resp
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)
	w, resp := doJSON(t, router, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK || !resp.Success {
		t.Fatalf("unexpected health response %d %+v", w.Code, resp)
	}
}

func TestDevicesEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	_, resp := doJSON(t, router, http.MethodGet, "/api/devices", nil)
	if data := resp.Data.(map[string]interface{}); data["state"] != "loading" {
		t.Errorf("expected loading before the first scan, got %v", data["state"])
	}

	w, resp := doJSON(t, router, http.MethodPost, "/api/devices/scan", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("scan returned %d", w.Code)
	}
	data := resp.Data.(map[string]interface{})
	if data["state"] != "devices" || len(data["devices"].([]interface{})) != 1 {
		t.Errorf("unexpected scan outcome %v", data)
	}

	w, resp = doJSON(t, router, http.MethodGet, "/api/devices/history", nil)
	if w.Code != http.StatusOK || !resp.Success {
		t.Errorf("history without a store should be empty, got %d %+v", w.Code, resp)
	}
}

func TestProjectLifecycleEndpoints(t *testing.T) {
	router, ws := newTestRouter(t)

	w, resp := doJSON(t, router, http.MethodPost, "/api/projects", models.CreateProjectRequest{Name: "blink"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %+v", w.Code, resp)
	}
	path := filepath.Join(ws, "blink")
	if got := resp.Data.(map[string]interface{})["path"]; got != path {
		t.Errorf("path = %v, want %s", got, path)
	}

	_, resp = doJSON(t, router, http.MethodGet, "/api/projects", nil)
	if list := resp.Data.([]interface{}); len(list) != 1 {
		t.Errorf("expected one project, got %v", list)
	}

	w, resp = doJSON(t, router, http.MethodGet, "/api/projects/settings?path="+path, nil)
	if w.Code != http.StatusOK || resp.Data.(map[string]interface{})["serialPrinting"] != "USB" {
		t.Errorf("unexpected settings %d %+v", w.Code, resp)
	}
	w, resp = doJSON(t, router, http.MethodPut, "/api/projects/settings", models.UpdateSettingsRequest{
		Path: path, Settings: models.ProjectSettings{SerialPrinting: "Radio"},
	})
	if w.Code != http.StatusBadRequest || resp.Code != "invalid_settings" {
		t.Errorf("expected invalid_settings, got %d %+v", w.Code, resp)
	}

	w, resp = doJSON(t, router, http.MethodPost, "/api/projects/tasks", models.RunTaskRequest{Label: "Binary build release (blink)"})
	if w.Code != http.StatusAccepted {
		t.Errorf("run task returned %d %+v", w.Code, resp)
	}
	w, resp = doJSON(t, router, http.MethodPost, "/api/projects/tasks", models.RunTaskRequest{Label: "Nope (blink)"})
	if w.Code != http.StatusNotFound || resp.Code != "task_not_configured" {
		t.Errorf("expected task_not_configured, got %d %+v", w.Code, resp)
	}
	w, resp = doJSON(t, router, http.MethodPost, "/api/projects/flash", models.BuildRequest{Path: filepath.Join(ws, "missing")})
	if w.Code != http.StatusConflict || resp.Code != "image_missing" {
		t.Errorf("expected image_missing, got %d %+v", w.Code, resp)
	}

	w, resp = doJSON(t, router, http.MethodDelete, "/api/projects", models.ProjectRef{Path: path, Name: "blink"})
	if w.Code != http.StatusOK || !resp.Success {
		t.Fatalf("delete returned %d %+v", w.Code, resp)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("project directory survived delete")
	}
}

func TestProjectErrors(t *testing.T) {
	router, _ := newTestRouter(t)
	tests := []struct {
		name   string
		body   models.CreateProjectRequest
		status int
		code   string
	}{
		{name: "invalid name", body: models.CreateProjectRequest{Name: "a b"}, status: http.StatusBadRequest, code: "invalid_name"},
		{name: "missing template", body: models.CreateProjectRequest{Name: "demo", Template: "nope"}, status: http.StatusNotFound, code: "missing_template"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := doJSON(t, router, http.MethodPost, "/api/projects", tt.body)
			if w.Code != tt.status || resp.Code != tt.code || resp.Success {
				t.Errorf("got %d %+v, want %d %s", w.Code, resp, tt.status, tt.code)
			}
		})
	}

	w, _ := doJSON(t, router, http.MethodPost, "/api/projects", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing name should be rejected, got %d", w.Code)
	}
}

func TestToolEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	w, resp := doJSON(t, router, http.MethodPost, "/api/openocd/start", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start returned %d %+v", w.Code, resp)
	}
	_, resp = doJSON(t, router, http.MethodGet, "/api/tasks", nil)
	if tasks := resp.Data.([]interface{}); len(tasks) != 1 {
		t.Errorf("expected the OpenOCD task to be listed, got %v", tasks)
	}
	w, _ = doJSON(t, router, http.MethodPost, "/api/openocd/stop", nil)
	if w.Code != http.StatusOK {
		t.Errorf("stop returned %d", w.Code)
	}

	w, resp = doJSON(t, router, http.MethodPost, "/api/monitor/stop", nil)
	if w.Code != http.StatusConflict || resp.Code != "task_not_running" {
		t.Errorf("expected task_not_running, got %d %+v", w.Code, resp)
	}
	w, _ = doJSON(t, router, http.MethodPost, "/api/monitor/start", nil)
	if w.Code != http.StatusAccepted {
		t.Errorf("monitor start without body returned %d", w.Code)
	}
	doJSON(t, router, http.MethodPost, "/api/monitor/stop", nil)

	w, _ = doJSON(t, router, http.MethodGet, "/api/tasks/does-not-exist", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown task returned %d", w.Code)
	}
}

func TestDeleteRefusesDirectoriesOutsideProjects(t *testing.T) {
	router, ws := newTestRouter(t)

	outside := filepath.Join(t.TempDir(), "important")
	if err := os.MkdirAll(outside, 0o755); err != nil {
		t.Fatal(err)
	}
	notProject := filepath.Join(ws, "docs")
	if err := os.MkdirAll(notProject, 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{name: "outside workspace", path: outside, status: http.StatusBadRequest, code: "path_resolution"},
		{name: "workspace root", path: ws, status: http.StatusBadRequest, code: "path_resolution"},
		{name: "no descriptor", path: notProject, status: http.StatusNotFound, code: "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := doJSON(t, router, http.MethodDelete, "/api/projects", models.ProjectRef{Path: tt.path})
			if w.Code != tt.status || resp.Code != tt.code {
				t.Errorf("got %d %+v, want %d %s", w.Code, resp, tt.status, tt.code)
			}
			if _, err := os.Stat(tt.path); err != nil {
				t.Errorf("directory removed: %v", err)
			}
		})
	}

	w, resp := doJSON(t, router, http.MethodPut, "/api/projects/settings", models.UpdateSettingsRequest{
		Path: outside, Settings: models.ProjectSettings{URL: "https://example.com"},
	})
	if w.Code != http.StatusBadRequest || resp.Code != "path_resolution" {
		t.Errorf("settings outside workspace: got %d %+v", w.Code, resp)
	}
	if _, err := os.Stat(filepath.Join(outside, project.DescriptorFile)); !os.IsNotExist(err) {
		t.Error("descriptor written outside the workspace")
	}
	w, _ = doJSON(t, router, http.MethodPut, "/api/projects/settings", models.UpdateSettingsRequest{
		Path: notProject, Settings: models.ProjectSettings{URL: "https://example.com"},
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("settings without descriptor: got %d", w.Code)
	}

	w, resp = doJSON(t, router, http.MethodPost, "/api/projects", models.CreateProjectRequest{
		Workspace: filepath.Dir(outside), Name: "important",
	})
	if w.Code != http.StatusBadRequest || resp.Code != "path_resolution" {
		t.Errorf("create outside workspace: got %d %+v", w.Code, resp)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Errorf("create outside workspace removed the directory: %v", err)
	}
}

func TestCrossOriginRequests(t *testing.T) {
	router, ws := newTestRouter(t)

	send := func(method, path, origin string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Origin", origin)
		if method == http.MethodOptions {
			req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := send(http.MethodOptions, "/api/projects", "https://evil.example", nil)
	if w.Code != http.StatusForbidden || w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("foreign preflight: status=%d allow-origin=%q", w.Code, w.Header().Get("Access-Control-Allow-Origin"))
	}

	w = send(http.MethodOptions, "/api/projects", "http://localhost:3000", nil)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("allowed preflight: status=%d allow-origin=%q", w.Code, w.Header().Get("Access-Control-Allow-Origin"))
	}

	// A POST without a JSON content type skips the preflight.
	w = send(http.MethodPost, "/api/projects", "https://evil.example", []byte(`{"name":"evil"}`))
	if w.Code != http.StatusForbidden {
		t.Errorf("foreign POST: status=%d", w.Code)
	}
	if _, err := os.Stat(filepath.Join(ws, "evil")); !os.IsNotExist(err) {
		t.Error("foreign POST created a project")
	}

	w = send(http.MethodGet, "/health", "http://example.com", nil)
	if w.Code != http.StatusOK {
		t.Errorf("same-host request refused: status=%d", w.Code)
	}
}
