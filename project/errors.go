package project

import "errors"

var (
	// ErrPathResolution is returned when a workspace or project path cannot be resolved.
	ErrPathResolution = errors.New("could not resolve path")
	// ErrMissingTemplate is returned before any filesystem change when the template tree is absent.
	ErrMissingTemplate = errors.New("could not find template")
	// ErrInvalidName is returned for project names outside [a-zA-Z0-9_-].
	ErrInvalidName = errors.New("invalid project name")
	// ErrNotFound is returned when a project directory or descriptor does not exist.
	ErrNotFound = errors.New("project not found")
	// ErrInvalidSettings is returned for descriptor values outside their allowed set.
	ErrInvalidSettings = errors.New("invalid project settings")
)
