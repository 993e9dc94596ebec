package service

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"picocontrol/jsonc"
	"picocontrol/models"
	"picocontrol/project"
)

// Labels of the long-running tool tasks.
const (
	LabelOpenOCD = "Start OpenOCD"
	LabelMonitor = "Serial Monitor"
	labelFlash   = "Flash"
)

var (
	// ErrTaskNotConfigured is returned when tasks.json has no task with the label.
	ErrTaskNotConfigured = errors.New("task not configured")
	// ErrImageMissing is returned when a project has not been built yet.
	ErrImageMissing = errors.New("binary image not found")
)

// ToolPaths locates the external executables.
type ToolPaths struct {
	OpenOCD        string
	OpenOCDScripts string
	Minicom        string
}

// ImageLoader builds the command line that flashes an image.
// *picotool.Client implements it.
type ImageLoader interface {
	LoadCommand(image string) string
}

// Tooling starts the debug server, the serial monitor, builds and flashes
// through the task runner.
type Tooling struct {
	runner      *TaskRunner
	loader      ImageLoader
	paths       ToolPaths
	root        string
	monitorPort string
	monitorBaud int
	logger      *slog.Logger
}

// NewTooling wires the tool commands to a task runner. Projects and
// workspaces outside root are refused; an empty root allows any path.
func NewTooling(runner *TaskRunner, loader ImageLoader, paths ToolPaths, root, monitorPort string, monitorBaud int, logger *slog.Logger) *Tooling {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tooling{
		runner:      runner,
		loader:      loader,
		paths:       paths,
		root:        root,
		monitorPort: monitorPort,
		monitorBaud: monitorBaud,
		logger:      logger.With("component", "tooling"),
	}
}

// OpenOCDCommand is the command line of the debug server.
func (t *Tooling) OpenOCDCommand() string {
	return fmt.Sprintf("%s -s %s -f interface/picoprobe.cfg -f target/rp2040.cfg", t.paths.OpenOCD, t.paths.OpenOCDScripts)
}

// MonitorCommand is the command line of the serial monitor.
func (t *Tooling) MonitorCommand(port string, baud int) string {
	return fmt.Sprintf("%s -b %d -o -D %s", t.paths.Minicom, baud, port)
}

// StartOpenOCD starts the debug server unless it is already running, in
// which case the live run is returned.
func (t *Tooling) StartOpenOCD() (*models.TaskRun, error) {
	return t.startOnce(models.TaskSpec{Label: LabelOpenOCD, Command: t.OpenOCDCommand()})
}

// StopOpenOCD stops the debug server.
func (t *Tooling) StopOpenOCD() error {
	return t.runner.Terminate(LabelOpenOCD)
}

// StartMonitor opens the serial monitor. Empty port and zero baud use the
// configured defaults.
func (t *Tooling) StartMonitor(port string, baud int) (*models.TaskRun, error) {
	if port == "" {
		port = t.monitorPort
	}
	if baud <= 0 {
		baud = t.monitorBaud
	}
	return t.startOnce(models.TaskSpec{Label: LabelMonitor, Command: t.MonitorCommand(port, baud)})
}

// StopMonitor closes the serial monitor.
func (t *Tooling) StopMonitor() error {
	return t.runner.Terminate(LabelMonitor)
}

func (t *Tooling) startOnce(spec models.TaskSpec) (*models.TaskRun, error) {
	if run, ok := t.runner.Lookup(spec.Label); ok {
		t.logger.Debug("task already running", "label", spec.Label, "pid", run.PID)
		return run, nil
	}
	return t.runner.Submit(spec)
}

// Flash loads the project's ELF image onto a device in BOOTSEL mode.
func (t *Tooling) Flash(projectPath string) (*models.TaskRun, error) {
	path, err := project.ConfineProject(t.root, projectPath)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	image := filepath.Join(path, "build", name+".elf")
	if _, err := os.Stat(image); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrImageMissing, image)
	}
	return t.runner.Submit(models.TaskSpec{
		Label:   project.Label(labelFlash, name),
		Command: t.loader.LoadCommand(image),
		Cwd:     path,
	})
}

// Build runs the project's release or debug build task from tasks.json.
func (t *Tooling) Build(projectPath string, debug bool) (*models.TaskRun, error) {
	path, err := project.ConfineProject(t.root, projectPath)
	if err != nil {
		return nil, err
	}
	base := project.LabelBuildRelease
	if debug {
		base = project.LabelBuildDebug
	}
	return t.RunConfigured(filepath.Dir(path), project.Label(base, filepath.Base(path)))
}

// RunConfigured runs the task labelled label from the workspace tasks.json,
// with ${workspaceFolder} resolved to the workspace path.
func (t *Tooling) RunConfigured(workspace, label string) (*models.TaskRun, error) {
	root, err := project.Confine(t.root, workspace)
	if err != nil {
		return nil, err
	}
	doc, err := jsonc.Load(project.WorkspaceFile(root, "tasks.json"), true)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotConfigured, label)
	}
	if err != nil {
		return nil, err
	}
	entries, err := doc.Entries("tasks")
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if l, _ := entry["label"].(string); l != label {
			continue
		}
		spec := project.TaskSpecFor(entry, "")
		spec.Command = strings.ReplaceAll(spec.Command, "${workspaceFolder}", root)
		spec.Cwd = strings.ReplaceAll(spec.Cwd, "${workspaceFolder}", root)
		if spec.Cwd == "" {
			spec.Cwd = root
		}
		return t.runner.Submit(spec)
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotConfigured, label)
}
