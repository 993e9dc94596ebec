package project

import (
	"fmt"
	"strings"
)

// Base labels of the generated tasks and launch configurations.
const (
	LabelRunCMake     = "Run CMake"
	LabelBuildRelease = "Binary build release"
	LabelBuildDebug   = "Binary build debug"
	LabelDebug        = "Debug Pico Example"
)

// Label appends the project suffix to a base label.
func Label(base, projectName string) string {
	return fmt.Sprintf("%s (%s)", base, projectName)
}

// HasSuffix reports whether label carries the suffix of projectName.
func HasSuffix(label, projectName string) bool {
	return strings.HasSuffix(label, fmt.Sprintf(" (%s)", projectName))
}
