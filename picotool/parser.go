package picotool

import (
	"fmt"
	"regexp"
	"strings"

	"picocontrol/models"
)

const (
	noBootselMarker = "No accessible RP2040 devices in BOOTSEL mode were found"
	programInfo     = "Program Information"
	unknown         = "unknown"

	// PicoDeviceType is the device type id reported for every RP2040 board.
	PicoDeviceType = "Raspberry Pi Pico"
)

var (
	fieldPattern     = regexp.MustCompile(`^([^:]+):\s*(.*)$`)
	busPattern       = regexp.MustCompile(`at bus (\d+)`)
	inaccessibleRe   = regexp.MustCompile(`appears to be a RP2040 device`)
	picoprobeRe      = regexp.MustCompile(`appears to be a (?:RP2040 )?PicoProbe device`)
	blankLinePattern = regexp.MustCompile(`^\s*$`)
)

// ErrorKind classifies discovery failures.
type ErrorKind string

const (
	// KindInvocation means picotool could not run or exited with an unexpected code.
	KindInvocation ErrorKind = "invocation"
	// KindParse means picotool ran but its report matched no known shape.
	KindParse ErrorKind = "parse"
)

// DiscoveryError is returned for every failed discovery.
type DiscoveryError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *DiscoveryError) Error() string {
	return e.Message
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// ParseOutput turns a picotool invocation result into device records.
// The sentinel exit code is not a failure; stdout is still parsed when present.
func ParseOutput(out Output) ([]models.Device, error) {
	if out.Err != nil && out.ExitCode != NoDeviceExitCode {
		reason := out.Err.Error()
		if stderr := strings.TrimSpace(out.Stderr); stderr != "" {
			reason = fmt.Sprintf("%s: %s", reason, stderr)
		}
		return nil, &DiscoveryError{
			Kind:    KindInvocation,
			Message: fmt.Sprintf("Failed to execute picotool to discover connected devices.\nReason: %s", reason),
			Err:     out.Err,
		}
	}
	if strings.TrimSpace(out.Stdout) == "" {
		return []models.Device{}, nil
	}
	return ParseDevices(out.Stdout)
}

// ParseDevices parses the text printed by `picotool info -b`.
// Only one device is reported per invocation.
func ParseDevices(text string) ([]models.Device, error) {
	if strings.Contains(text, noBootselMarker) {
		return parseNoBootselDevices(text)
	}

	binName, binFeatures := unknown, unknown
	var haveName, haveFeatures bool

	inBinInfo := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.Contains(line, programInfo) {
			inBinInfo = true
			continue
		}
		if !inBinInfo {
			continue
		}
		if blankLinePattern.MatchString(line) {
			break
		}
		m := fieldPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[2])
		switch strings.TrimSpace(m[1]) {
		case "name":
			if !haveName {
				binName, haveName = value, true
			}
		case "features":
			if !haveFeatures {
				binFeatures, haveFeatures = value, true
			}
		}
	}

	return []models.Device{{
		ID:        unknown,
		Label:     binName,
		Connected: true,
		Image:     binName + ".elf",
		State:     "BOOTSEL",
		DeviceType: &models.DeviceType{
			ID:          PicoDeviceType,
			Description: "Features: " + binFeatures,
		},
	}}, nil
}

func parseNoBootselDevices(text string) ([]models.Device, error) {
	switch {
	case inaccessibleRe.MatchString(text):
		return []models.Device{{
			ID:         DevicePath(ParseBus(text)),
			Label:      "Unknown RP2040 device",
			Connected:  false,
			Image:      unknown,
			State:      "Picotool cannot connect. Check permissions.",
			DeviceType: &models.DeviceType{ID: PicoDeviceType},
		}}, nil
	case picoprobeRe.MatchString(text):
		return []models.Device{{
			ID:         DevicePath(ParseBus(text)),
			Label:      "RP2040 PicoProbe device",
			Connected:  true,
			Image:      "picoprobe.elf",
			State:      "Running",
			DeviceType: &models.DeviceType{ID: PicoDeviceType},
		}}, nil
	}

	summary := strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
	return nil, &DiscoveryError{Kind: KindParse, Message: summary}
}

// ParseBus extracts the USB bus number from a picotool report.
// It returns "0" when no bus is mentioned, which is indistinguishable from bus 0.
func ParseBus(text string) string {
	if m := busPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return "0"
}

// DevicePath synthesizes the device path shown for a bus number.
func DevicePath(bus string) string {
	return "/dev/sda" + bus
}
