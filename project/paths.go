package project

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// DescriptorFile is the sidecar written into every project directory.
	DescriptorFile = ".pico-project"

	theiaDir     = ".theia"
	tasksFile    = "tasks.json"
	launchFile   = "launch.json"
	settingsFile = "settings.json"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateName checks a project name before it is used as a directory name
// and as a label suffix.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w '%s': only letters, digits, '-' and '_' are allowed", ErrInvalidName, name)
	}
	return nil
}

// ResolveProjectPath joins workspace and name into an absolute project path.
func ResolveProjectPath(workspace, name string) (string, error) {
	if strings.TrimSpace(workspace) == "" {
		return "", fmt.Errorf("%w '%s'", ErrPathResolution, workspace)
	}
	root, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("%w '%s': %v", ErrPathResolution, workspace, err)
	}
	path := filepath.Join(root, name)
	if filepath.Dir(path) != root {
		return "", fmt.Errorf("%w '%s'", ErrPathResolution, path)
	}
	return path, nil
}

func cleanProjectPath(projectPath string) (string, error) {
	if strings.TrimSpace(projectPath) == "" {
		return "", fmt.Errorf("%w '%s'", ErrPathResolution, projectPath)
	}
	path, err := filepath.Abs(projectPath)
	if err != nil {
		return "", fmt.Errorf("%w '%s': %v", ErrPathResolution, projectPath, err)
	}
	if filepath.Dir(path) == path {
		return "", fmt.Errorf("%w '%s'", ErrPathResolution, projectPath)
	}
	return path, nil
}

// Confine resolves path and checks that it is root or lies below it. An
// empty root accepts any path.
func Confine(root, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w '%s'", ErrPathResolution, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w '%s': %v", ErrPathResolution, path, err)
	}
	if root == "" {
		return abs, nil
	}
	base, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w '%s': %v", ErrPathResolution, root, err)
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w '%s': outside workspace root %s", ErrPathResolution, path, base)
	}
	return abs, nil
}

// ConfineProject resolves a project directory whose workspace lies inside
// root. The root itself is never a project.
func ConfineProject(root, projectPath string) (string, error) {
	path, err := cleanProjectPath(projectPath)
	if err != nil {
		return "", err
	}
	if _, err := Confine(root, filepath.Dir(path)); err != nil {
		return "", fmt.Errorf("%w '%s': outside workspace root", ErrPathResolution, projectPath)
	}
	return path, nil
}

// WorkspaceFile returns the path of a shared .theia file of the workspace.
func WorkspaceFile(workspace, file string) string {
	return filepath.Join(workspace, theiaDir, file)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
