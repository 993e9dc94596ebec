package models

// HardwareType selects the template variant and the debug/flash tooling.
type HardwareType string

const (
	HardwarePico HardwareType = "pico"
)

// Template names a pre-built example project.
type Template string

const (
	TemplateBlink Template = "blink"
	TemplateEmpty Template = "empty"
)

// Serial printing modes accepted in a project descriptor.
const (
	SerialUSB  = "USB"
	SerialUART = "UART"
	SerialBoth = "Both"
	SerialNone = "None"
)

// ProjectSettings is the content of a project's .pico-project descriptor.
type ProjectSettings struct {
	HardwareType   HardwareType `json:"hardwareType"`
	ProjectID      string       `json:"projectId,omitempty"`
	Name           string       `json:"name,omitempty"`
	URL            string       `json:"url,omitempty"`
	SerialPrinting string       `json:"serialPrinting,omitempty"`
}

// ProjectInfo is one project found in a workspace.
type ProjectInfo struct {
	Name     string          `json:"name"`
	Path     string          `json:"path"`
	Settings ProjectSettings `json:"settings"`
}

// CreateProjectRequest is the body of POST /api/projects.
type CreateProjectRequest struct {
	Workspace    string       `json:"workspace"`
	Name         string       `json:"name" binding:"required"`
	HardwareType HardwareType `json:"hardwareType"`
	Template     Template     `json:"template"`
}

// ProjectRef identifies an existing project by path and name.
type ProjectRef struct {
	Path string `json:"path" binding:"required"`
	Name string `json:"name"`
}

// ProjectRecord is a registry row for a project created by this service.
type ProjectRecord struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Workspace    string       `json:"workspace"`
	Path         string       `json:"path"`
	HardwareType HardwareType `json:"hardwareType"`
	Template     Template     `json:"template"`
	Steps        []string     `json:"steps"`
	CreatedAt    int64        `json:"created_at"`
	UpdatedAt    int64        `json:"updated_at"`
}

// UpdateSettingsRequest is the body of PUT /api/projects/settings.
type UpdateSettingsRequest struct {
	Path     string          `json:"path" binding:"required"`
	Settings ProjectSettings `json:"settings"`
}

// BuildRequest is the body of POST /api/projects/build and /flash.
type BuildRequest struct {
	Path  string `json:"path" binding:"required"`
	Debug bool   `json:"debug"`
}
