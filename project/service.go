// Package project creates, resumes and deletes Pico projects inside an editor
// workspace and keeps the shared .theia configuration files in step with them.
package project

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"picocontrol/jsonc"
	"picocontrol/models"
)

// TaskSubmitter runs a shell task on behalf of the project service.
type TaskSubmitter interface {
	Submit(spec models.TaskSpec) (*models.TaskRun, error)
}

// Registry records created projects and their completed steps.
type Registry interface {
	SaveProject(ctx context.Context, rec models.ProjectRecord) error
	MarkStep(ctx context.Context, projectID, step string) error
	ProjectByPath(ctx context.Context, path string) (*models.ProjectRecord, error)
	DeleteProjectByPath(ctx context.Context, path string) error
}

// Options configures a Service.
type Options struct {
	// Resources holds the template trees and the .theia fragments.
	Resources fs.FS
	// Registry is optional.
	Registry Registry
	// Tasks receives the initial CMake run. Optional.
	Tasks            TaskSubmitter
	Logger           *slog.Logger
	PreserveComments bool
	Toolchain        Toolchain
	// Root confines every workspace and project path. Empty allows any path.
	Root string
}

// Service owns the project lifecycle. Operations are serialized so that two
// requests never interleave their edits of the shared workspace files.
type Service struct {
	mu sync.Mutex

	resources        fs.FS
	registry         Registry
	tasks            TaskSubmitter
	logger           *slog.Logger
	preserveComments bool
	toolchain        Toolchain
	root             string
	newID            func() string
}

// NewService builds a project service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		resources:        opts.Resources,
		registry:         opts.Registry,
		tasks:            opts.Tasks,
		logger:           logger.With("component", "project"),
		preserveComments: opts.PreserveComments,
		toolchain:        opts.Toolchain,
		root:             opts.Root,
		newID:            uuid.NewString,
	}
}

// Create builds a fresh project at <workspace>/<name>. An existing directory
// of that name is removed first and its workspace entries are replaced.
func (s *Service) Create(ctx context.Context, req models.CreateProjectRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.prepare(req)
	if err != nil {
		return "", err
	}
	s.logger.Info("creating project", "name", j.name, "template", j.template,
		"hardware", j.hardware, "workspace", j.workspace)

	if id := s.knownID(ctx, j.path); id != "" {
		j.previousIDs = append(j.previousIDs, id)
	} else {
		j.legacy = exists(descriptorPath(j.path))
	}
	if err := os.RemoveAll(j.path); err != nil {
		return "", fmt.Errorf("remove existing project %s: %w", j.path, err)
	}
	j.projectID = s.newID()
	j.rewriteFragments(s.toolchain)
	s.register(ctx, j)

	for _, st := range s.steps() {
		if err := s.runStep(ctx, j, st); err != nil {
			return j.path, err
		}
	}
	s.logger.Info("project created", "path", j.path, "project_id", j.projectID)
	return j.path, nil
}

// Resume runs the creation steps that have not completed yet for
// <workspace>/<name>, keeping whatever is already on disk. It returns the
// project path and the steps that ran.
func (s *Service) Resume(ctx context.Context, req models.CreateProjectRequest) (string, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.prepare(req)
	if err != nil {
		return "", nil, err
	}
	j.projectID = s.knownID(ctx, j.path)
	if j.projectID == "" {
		j.projectID = s.newID()
		j.legacy = exists(descriptorPath(j.path))
	}
	j.rewriteFragments(s.toolchain)
	s.register(ctx, j)

	var ran []string
	for _, st := range s.steps() {
		done, err := st.done(j)
		if err != nil {
			return j.path, ran, fmt.Errorf("check step %s: %w", st.name, err)
		}
		if done {
			s.markStep(ctx, j, st.name)
			continue
		}
		if err := s.runStep(ctx, j, st); err != nil {
			return j.path, ran, err
		}
		ran = append(ran, st.name)
	}
	s.logger.Info("project resumed", "path", j.path, "steps", ran)
	return j.path, ran, nil
}

// Delete removes the project directory and every task and launch entry the
// project registered in the workspace. A directory without a project
// descriptor is refused. A directory that is already gone only has its
// entries removed.
func (s *Service) Delete(ctx context.Context, projectPath, name string) error {
	path, err := ConfineProject(s.root, projectPath)
	if err != nil {
		return err
	}
	if name == "" {
		name = filepath.Base(path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if exists(path) && !exists(descriptorPath(path)) {
		return fmt.Errorf("%w: %s has no %s", ErrNotFound, path, DescriptorFile)
	}

	s.logger.Info("deleting project", "name", name, "path", path)
	var ids []string
	if id := s.knownID(ctx, path); id != "" {
		ids = append(ids, id)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove project %s: %w", path, err)
	}

	workspace := filepath.Dir(path)
	targets := []struct{ file, key, labelKey string }{
		{tasksFile, "tasks", "label"},
		{launchFile, "configurations", "name"},
	}
	for _, t := range targets {
		file := WorkspaceFile(workspace, t.file)
		if !exists(file) {
			continue
		}
		doc, err := jsonc.Load(file, s.preserveComments)
		if err != nil {
			return fmt.Errorf("unregister project from %s: %w", t.file, err)
		}
		removed, err := doc.RemoveWhere(t.key, matchProject(t.labelKey, name, ids...))
		if err != nil {
			return fmt.Errorf("unregister project from %s: %w", t.file, err)
		}
		if err := doc.Save(); err != nil {
			return err
		}
		s.logger.Debug("workspace entries removed", "file", file, "count", removed)
	}

	if s.registry != nil {
		if err := s.registry.DeleteProjectByPath(ctx, path); err != nil {
			s.logger.Warn("registry delete failed", "path", path, "error", err)
		}
	}
	return nil
}

// List returns the direct children of workspace that carry a project descriptor.
func (s *Service) List(workspace string) ([]models.ProjectInfo, error) {
	root, err := Confine(s.root, workspace)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, root)
	}
	if err != nil {
		return nil, err
	}
	projects := []models.ProjectInfo{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(root, e.Name())
		if !exists(descriptorPath(path)) {
			continue
		}
		settings, err := readDescriptor(path)
		if err != nil {
			s.logger.Warn("project descriptor unreadable", "path", path, "error", err)
		}
		projects = append(projects, models.ProjectInfo{
			Name:     e.Name(),
			Path:     path,
			Settings: withDefaults(settings, path),
		})
	}
	return projects, nil
}

// prepare validates a request and loads everything creation needs. Nothing
// on disk is touched, so a missing template aborts cleanly.
func (s *Service) prepare(req models.CreateProjectRequest) (*job, error) {
	if err := ValidateName(req.Name); err != nil {
		return nil, err
	}
	j := &job{
		name:     req.Name,
		hardware: req.HardwareType,
		template: req.Template,
	}
	if j.hardware == "" {
		j.hardware = models.HardwarePico
	}
	if j.template == "" {
		j.template = models.TemplateBlink
	}
	workspace, err := Confine(s.root, req.Workspace)
	if err != nil {
		return nil, err
	}
	path, err := ResolveProjectPath(workspace, req.Name)
	if err != nil {
		return nil, err
	}
	j.path = path
	j.workspace = filepath.Dir(path)

	j.templateDir = templateRoot(j.hardware, j.template)
	if info, err := fs.Stat(s.resources, j.templateDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w '%s'", ErrMissingTemplate, j.templateDir)
	}

	tasks, ok, err := loadFragment(s.resources, tasksFile, "tasks")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("task fragment %s missing from resources", filepath.Join(theiaDir, tasksFile))
	}
	j.tasks = tasks
	j.launches, j.hasLaunch, err = loadFragment(s.resources, launchFile, "configurations")
	if err != nil {
		return nil, err
	}
	return j, nil
}

// knownID finds the id of an existing project from its descriptor or the registry.
func (s *Service) knownID(ctx context.Context, path string) string {
	if d, err := readDescriptor(path); err == nil && d.ProjectID != "" {
		return d.ProjectID
	}
	if s.registry != nil {
		if rec, err := s.registry.ProjectByPath(ctx, path); err == nil {
			return rec.ID
		}
	}
	return ""
}

func (s *Service) register(ctx context.Context, j *job) {
	if s.registry == nil {
		return
	}
	err := s.registry.SaveProject(ctx, models.ProjectRecord{
		ID:           j.projectID,
		Name:         j.name,
		Workspace:    j.workspace,
		Path:         j.path,
		HardwareType: j.hardware,
		Template:     j.template,
	})
	if err != nil {
		s.logger.Warn("registry save failed", "path", j.path, "error", err)
	}
}

func (s *Service) markStep(ctx context.Context, j *job, step string) {
	if s.registry == nil {
		return
	}
	if err := s.registry.MarkStep(ctx, j.projectID, step); err != nil {
		s.logger.Warn("registry step update failed", "step", step, "error", err)
	}
}

func (s *Service) runStep(ctx context.Context, j *job, st step) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Debug("project step", "step", st.name, "path", j.path)
	if err := st.run(ctx, j); err != nil {
		return fmt.Errorf("step %s: %w", st.name, err)
	}
	s.markStep(ctx, j, st.name)
	return nil
}
