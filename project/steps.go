package project

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"picocontrol/jsonc"
	"picocontrol/models"
)

// Creation steps in the order they run.
const (
	StepDirectory  = "directory"
	StepTemplate   = "template"
	StepDescriptor = "descriptor"
	StepSettings   = "settings"
	StepTasks      = "tasks"
	StepLaunch     = "launch"
	StepBuild      = "build"
)

// Steps lists the creation steps in order.
var Steps = []string{StepDirectory, StepTemplate, StepDescriptor, StepSettings, StepTasks, StepLaunch, StepBuild}

// job carries one creation request through the steps.
type job struct {
	workspace   string
	name        string
	path        string
	hardware    models.HardwareType
	template    models.Template
	templateDir string

	projectID   string
	previousIDs []string
	// legacy is set when the project on disk has a descriptor without an id.
	// Its old entries are then found by label suffix.
	legacy bool

	tasks     []jsonc.Entry
	launches  []jsonc.Entry
	hasLaunch bool
}

func (j *job) rewriteFragments(tc Toolchain) {
	j.tasks = projectTasks(j.tasks, j.name, j.projectID)
	if j.hasLaunch {
		j.launches = projectLaunches(j.launches, j.name, j.projectID, tc)
	}
}

// ids lists every project id whose workspace entries this job replaces.
func (j *job) ids() []string {
	return append([]string{j.projectID}, j.previousIDs...)
}

// staleEntries matches the entries a merge replaces.
func (j *job) staleEntries(labelKey string) func(jsonc.Entry) bool {
	byID := matchProject(labelKey, j.name, j.ids()...)
	if !j.legacy {
		return byID
	}
	bySuffix := matchProject(labelKey, j.name)
	return func(e jsonc.Entry) bool { return byID(e) || bySuffix(e) }
}

type step struct {
	name string
	// done probes the disk for the step's effect.
	done func(j *job) (bool, error)
	run  func(ctx context.Context, j *job) error
}

func (s *Service) steps() []step {
	return []step{
		{
			name: StepDirectory,
			done: func(j *job) (bool, error) { return isDir(j.path), nil },
			run: func(_ context.Context, j *job) error {
				return os.MkdirAll(j.path, 0o755)
			},
		},
		{
			name: StepTemplate,
			done: func(j *job) (bool, error) { return treeCopied(s.resources, j.templateDir, j.path), nil },
			run: func(_ context.Context, j *job) error {
				return copyTree(s.resources, j.templateDir, j.path)
			},
		},
		{
			name: StepDescriptor,
			done: func(j *job) (bool, error) {
				d, err := readDescriptor(j.path)
				return err == nil && d.ProjectID == j.projectID, nil
			},
			run: func(_ context.Context, j *job) error {
				return writeDescriptor(j.path, models.ProjectSettings{
					HardwareType: j.hardware,
					ProjectID:    j.projectID,
					Name:         j.name,
				})
			},
		},
		{name: StepSettings, done: s.settingsMerged, run: s.mergeSettings},
		{
			name: StepTasks,
			done: func(j *job) (bool, error) { return s.registered(j, tasksFile, "tasks") },
			run: func(_ context.Context, j *job) error {
				return s.mergeEntries(j, tasksFile, "tasks", "label", map[string]any{"version": "2.0.0"}, j.tasks)
			},
		},
		{
			name: StepLaunch,
			done: func(j *job) (bool, error) {
				if !j.hasLaunch {
					return true, nil
				}
				return s.registered(j, launchFile, "configurations")
			},
			run: func(_ context.Context, j *job) error {
				if !j.hasLaunch {
					return nil
				}
				return s.mergeEntries(j, launchFile, "configurations", "name", map[string]any{"version": "0.2.0"}, j.launches)
			},
		},
		{
			name: StepBuild,
			done: func(j *job) (bool, error) { return isDir(filepath.Join(j.path, "build")), nil },
			run:  s.triggerBuild,
		},
	}
}

var defaultSettings = map[string]any{
	"files.associations":    map[string]any{"*" + DescriptorFile: "json"},
	"cmake.configureOnOpen": true,
}

func (s *Service) settingsMerged(j *job) (bool, error) {
	doc, err := jsonc.Load(WorkspaceFile(j.workspace, settingsFile), s.preserveComments)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return doc.Has("files.associations") && doc.Has("cmake.configureOnOpen"), nil
}

// mergeSettings copies the resource settings when the workspace has none and
// otherwise adds the keys a project relies on without touching existing ones.
func (s *Service) mergeSettings(_ context.Context, j *job) error {
	target := WorkspaceFile(j.workspace, settingsFile)
	if !exists(target) {
		data, err := fs.ReadFile(s.resources, path.Join(theiaDir, settingsFile))
		if err == nil {
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			return os.WriteFile(target, data, 0o644)
		}
		s.logger.Debug("no settings resource, writing defaults", "error", err)
	}

	doc, _, err := jsonc.LoadOrInit(target, map[string]any{}, s.preserveComments)
	if err != nil {
		return fmt.Errorf("merge %s: %w", settingsFile, err)
	}
	changed := false
	for _, key := range []string{"files.associations", "cmake.configureOnOpen"} {
		added, err := doc.SetIfAbsent(key, defaultSettings[key])
		if err != nil {
			return err
		}
		changed = changed || added
	}
	if !changed && exists(target) {
		return nil
	}
	return doc.SaveAs(target)
}

// registered reports whether file already holds an entry with the job's id.
func (s *Service) registered(j *job, file, key string) (bool, error) {
	doc, err := jsonc.Load(WorkspaceFile(j.workspace, file), s.preserveComments)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	entries, err := doc.Entries(key)
	if err != nil {
		return false, err
	}
	return hasProjectEntry(entries, j.projectID), nil
}

// mergeEntries appends the generated entries to a shared workspace file,
// first dropping any entries an earlier run left for the same project.
func (s *Service) mergeEntries(j *job, file, key, labelKey string, skeleton any, entries []jsonc.Entry) error {
	target := WorkspaceFile(j.workspace, file)
	doc, created, err := jsonc.LoadOrInit(target, skeleton, s.preserveComments)
	if err != nil {
		return fmt.Errorf("merge %s: %w", file, err)
	}
	if !created {
		removed, err := doc.RemoveWhere(key, j.staleEntries(labelKey))
		if err != nil {
			return fmt.Errorf("merge %s: %w", file, err)
		}
		if removed > 0 {
			s.logger.Info("replaced stale workspace entries", "file", file, "count", removed)
		}
	}
	values := make([]any, len(entries))
	for i, e := range entries {
		values[i] = e
	}
	if err := doc.Append(key, values...); err != nil {
		return fmt.Errorf("merge %s: %w", file, err)
	}
	return doc.SaveAs(target)
}

// triggerBuild submits the project's CMake task with its working directory
// set to the real project path.
func (s *Service) triggerBuild(_ context.Context, j *job) error {
	label := Label(LabelRunCMake, j.name)
	task := findTask(j.tasks, label)
	if task == nil {
		return fmt.Errorf("no %q task in the task fragment", label)
	}
	if s.tasks == nil {
		s.logger.Warn("no task runner configured, skipping initial build", "task", label)
		return nil
	}
	spec := TaskSpecFor(task, j.path)
	run, err := s.tasks.Submit(spec)
	if err != nil {
		return fmt.Errorf("submit %q: %w", label, err)
	}
	s.logger.Info("initial build submitted", "task", label, "run_id", run.ID, "cwd", spec.Cwd)
	return nil
}

// TaskSpecFor turns a task configuration entry into a runnable shell task.
// A non-empty cwd overrides the entry's options.cwd.
func TaskSpecFor(task jsonc.Entry, cwd string) models.TaskSpec {
	label, _ := task["label"].(string)
	command, _ := task["command"].(string)
	if args, ok := task["args"].([]any); ok {
		parts := []string{command}
		for _, a := range args {
			parts = append(parts, fmt.Sprint(a))
		}
		command = strings.Join(parts, " ")
	}
	if cwd == "" {
		if options, ok := task["options"].(map[string]any); ok {
			cwd, _ = options["cwd"].(string)
		}
	}
	return models.TaskSpec{Label: label, Command: command, Cwd: cwd}
}
