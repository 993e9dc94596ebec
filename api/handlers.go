package api

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"picocontrol/jsonc"
	"picocontrol/models"
	"picocontrol/project"
	"picocontrol/service"
)

// errorStatus maps domain errors to an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, project.ErrInvalidName):
		return http.StatusBadRequest, "invalid_name"
	case errors.Is(err, project.ErrPathResolution):
		return http.StatusBadRequest, "path_resolution"
	case errors.Is(err, project.ErrInvalidSettings):
		return http.StatusBadRequest, "invalid_settings"
	case errors.Is(err, project.ErrMissingTemplate):
		return http.StatusNotFound, "missing_template"
	case errors.Is(err, project.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrTaskNotConfigured):
		return http.StatusNotFound, "task_not_configured"
	case errors.Is(err, jsonc.ErrMalformed):
		return http.StatusUnprocessableEntity, "malformed_workspace_file"
	case errors.Is(err, service.ErrTaskNotRunning):
		return http.StatusConflict, "task_not_running"
	case errors.Is(err, service.ErrImageMissing):
		return http.StatusConflict, "image_missing"
	case errors.Is(err, service.ErrQueueFull):
		return http.StatusServiceUnavailable, "queue_full"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func respondError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Printf("❌ %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, models.CodedErrorResponse(code, err.Error()))
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, models.CodedErrorResponse("bad_request", err.Error()))
		return false
	}
	return true
}

func workspaceOr(s *Services, workspace string) string {
	if workspace == "" {
		return s.Workspace
	}
	return workspace
}

// Health reports liveness and a few counters.
func Health(c *gin.Context, s *Services) {
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{
		"status":    "ok",
		"message":   "Pico Control Backend is running",
		"discovery": s.Devices.Outcome().State,
		"clients":   s.Hub.ClientCount(),
	}))
}

// GetDevices returns the current discovery outcome
func GetDevices(c *gin.Context, dm *service.DeviceManager) {
	c.JSON(http.StatusOK, models.SuccessResponse(dm.Outcome()))
}

// ScanDevices runs discovery and returns its outcome
func ScanDevices(c *gin.Context, dm *service.DeviceManager) {
	c.JSON(http.StatusOK, models.SuccessResponse(dm.Scan(c.Request.Context())))
}

// GetDiscoveryHistory returns the newest discovery log entries
func GetDiscoveryHistory(c *gin.Context, history DiscoveryHistory) {
	if history == nil {
		c.JSON(http.StatusOK, models.SuccessResponse([]interface{}{}))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := history.RecentDiscoveries(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(entries))
}

func ListProjects(c *gin.Context, s *Services) {
	projects, err := s.Projects.List(workspaceOr(s, c.Query("workspace")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(projects))
}

func CreateProject(c *gin.Context, s *Services) {
	var req models.CreateProjectRequest
	if !bindJSON(c, &req) {
		return
	}
	req.Workspace = workspaceOr(s, req.Workspace)
	path, err := s.Projects.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.SuccessResponse(gin.H{"path": path}))
}

func ResumeProject(c *gin.Context, s *Services) {
	var req models.CreateProjectRequest
	if !bindJSON(c, &req) {
		return
	}
	req.Workspace = workspaceOr(s, req.Workspace)
	path, steps, err := s.Projects.Resume(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	if steps == nil {
		steps = []string{}
	}
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"path": path, "steps": steps}))
}

func DeleteProject(c *gin.Context, projects *project.Service) {
	var ref models.ProjectRef
	if !bindJSON(c, &ref) {
		return
	}
	if err := projects.Delete(c.Request.Context(), ref.Path, ref.Name); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("project deleted"))
}

func GetProjectSettings(c *gin.Context, projects *project.Service) {
	settings, err := projects.Settings(c.Query("path"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(settings))
}

func UpdateProjectSettings(c *gin.Context, projects *project.Service) {
	var req models.UpdateSettingsRequest
	if !bindJSON(c, &req) {
		return
	}
	settings, err := projects.UpdateSettings(req.Path, req.Settings)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(settings))
}

func RunConfiguredTask(c *gin.Context, s *Services) {
	var req models.RunTaskRequest
	if !bindJSON(c, &req) {
		return
	}
	run, err := s.Tooling.RunConfigured(workspaceOr(s, req.Workspace), req.Label)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, models.SuccessResponse(run))
}

func BuildProject(c *gin.Context, tooling *service.Tooling) {
	var req models.BuildRequest
	if !bindJSON(c, &req) {
		return
	}
	run, err := tooling.Build(req.Path, req.Debug)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, models.SuccessResponse(run))
}

func FlashProject(c *gin.Context, tooling *service.Tooling) {
	var req models.BuildRequest
	if !bindJSON(c, &req) {
		return
	}
	run, err := tooling.Flash(req.Path)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, models.SuccessResponse(run))
}

func StartOpenOCD(c *gin.Context, tooling *service.Tooling) {
	run, err := tooling.StartOpenOCD()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, models.SuccessResponse(run))
}

func StopOpenOCD(c *gin.Context, tooling *service.Tooling) {
	if err := tooling.StopOpenOCD(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("OpenOCD stopped"))
}

func StartMonitor(c *gin.Context, tooling *service.Tooling) {
	var req models.MonitorRequest
	// The body is optional.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, models.CodedErrorResponse("bad_request", err.Error()))
		return
	}
	run, err := tooling.StartMonitor(req.Port, req.Baud)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, models.SuccessResponse(run))
}

func StopMonitor(c *gin.Context, tooling *service.Tooling) {
	if err := tooling.StopMonitor(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("monitor stopped"))
}

// GetTasks returns the live task registry
func GetTasks(c *gin.Context, runner *service.TaskRunner) {
	c.JSON(http.StatusOK, models.SuccessResponse(runner.Running()))
}

// GetTask returns one run, including recently finished ones
func GetTask(c *gin.Context, runner *service.TaskRunner) {
	run, ok := runner.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, models.CodedErrorResponse("not_found", "task not found"))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(run))
}
