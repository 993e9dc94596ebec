package models

// DeviceType describes the board family a device belongs to.
type DeviceType struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
}

// Device is one unit reported by picotool.
type Device struct {
	ID         string      `json:"id"` // "unknown" when picotool exposes no path
	Label      string      `json:"label"`
	Connected  bool        `json:"connected"`
	Image      string      `json:"image"`
	State      string      `json:"state"`
	DeviceType *DeviceType `json:"deviceType,omitempty"`
}

// DiscoveryState tags which field of a DiscoveryOutcome is meaningful.
type DiscoveryState string

const (
	DiscoveryLoading DiscoveryState = "loading"
	DiscoveryDevices DiscoveryState = "devices"
	DiscoveryError   DiscoveryState = "error"
)

// DiscoveryOutcome is the current result of device discovery.
// Exactly one of Devices (state devices) or Error (state error) is set.
type DiscoveryOutcome struct {
	State     DiscoveryState `json:"state"`
	Devices   []Device       `json:"devices,omitempty"`
	Error     string         `json:"error,omitempty"`
	UpdatedAt int64          `json:"updated_at"`
}

// Equal reports whether two outcomes carry the same state and payload,
// ignoring the timestamp.
func (o DiscoveryOutcome) Equal(other DiscoveryOutcome) bool {
	if o.State != other.State || o.Error != other.Error || len(o.Devices) != len(other.Devices) {
		return false
	}
	for i := range o.Devices {
		a, b := o.Devices[i], other.Devices[i]
		if a.ID != b.ID || a.Label != b.Label || a.Connected != b.Connected ||
			a.Image != b.Image || a.State != b.State {
			return false
		}
		if (a.DeviceType == nil) != (b.DeviceType == nil) {
			return false
		}
		if a.DeviceType != nil && *a.DeviceType != *b.DeviceType {
			return false
		}
	}
	return true
}
