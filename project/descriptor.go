package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"picocontrol/models"
)

var serialModes = map[string]bool{
	models.SerialUSB:  true,
	models.SerialUART: true,
	models.SerialBoth: true,
	models.SerialNone: true,
}

func descriptorPath(projectPath string) string {
	return filepath.Join(projectPath, DescriptorFile)
}

func readDescriptor(projectPath string) (models.ProjectSettings, error) {
	var settings models.ProjectSettings
	data, err := os.ReadFile(descriptorPath(projectPath))
	if err != nil {
		return settings, err
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("parse %s: %w", descriptorPath(projectPath), err)
	}
	return settings, nil
}

func writeDescriptor(projectPath string, settings models.ProjectSettings) error {
	data, err := json.MarshalIndent(settings, "", "    ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(descriptorPath(projectPath), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	return nil
}

// withDefaults fills the editor fields a descriptor may omit.
func withDefaults(settings models.ProjectSettings, projectPath string) models.ProjectSettings {
	if settings.HardwareType == "" {
		settings.HardwareType = models.HardwarePico
	}
	if settings.Name == "" {
		settings.Name = filepath.Base(projectPath)
	}
	if settings.SerialPrinting == "" {
		settings.SerialPrinting = models.SerialUSB
	}
	return settings
}

// Settings returns the descriptor of a project with editor defaults applied.
// An unreadable descriptor yields the defaults.
func (s *Service) Settings(projectPath string) (models.ProjectSettings, error) {
	path, err := ConfineProject(s.root, projectPath)
	if err != nil {
		return models.ProjectSettings{}, err
	}
	if !isDir(path) {
		return models.ProjectSettings{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	settings, err := readDescriptor(path)
	if err != nil {
		s.logger.Warn("project descriptor unreadable, using defaults", "path", path, "error", err)
		settings = models.ProjectSettings{}
	}
	return withDefaults(settings, path), nil
}

// UpdateSettings merges the non-empty editor fields of patch into an
// existing descriptor. The project id cannot be changed.
func (s *Service) UpdateSettings(projectPath string, patch models.ProjectSettings) (models.ProjectSettings, error) {
	path, err := ConfineProject(s.root, projectPath)
	if err != nil {
		return models.ProjectSettings{}, err
	}
	if patch.SerialPrinting != "" && !serialModes[patch.SerialPrinting] {
		return models.ProjectSettings{}, fmt.Errorf("%w: unknown serial printing mode %q", ErrInvalidSettings, patch.SerialPrinting)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !isDir(path) || !exists(descriptorPath(path)) {
		return models.ProjectSettings{}, fmt.Errorf("%w: %s has no %s", ErrNotFound, path, DescriptorFile)
	}
	current, err := readDescriptor(path)
	if err != nil {
		s.logger.Warn("replacing unreadable project descriptor", "path", path, "error", err)
	}
	if patch.HardwareType != "" {
		current.HardwareType = patch.HardwareType
	}
	if patch.Name != "" {
		current.Name = patch.Name
	}
	if patch.URL != "" {
		current.URL = patch.URL
	}
	if patch.SerialPrinting != "" {
		current.SerialPrinting = patch.SerialPrinting
	}
	current = withDefaults(current, path)
	if err := writeDescriptor(path, current); err != nil {
		return models.ProjectSettings{}, err
	}
	s.logger.Info("project settings updated", "path", path)
	return current, nil
}
