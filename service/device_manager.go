package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"picocontrol/models"
)

// WebSocketBroadcaster interface to avoid import cycle
type WebSocketBroadcaster interface {
	BroadcastToAll(message interface{})
}

// DeviceLister enumerates connected devices. *picotool.Client implements it.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
}

// DiscoveryRecorder keeps a history of discovery outcomes.
type DiscoveryRecorder interface {
	RecordDiscovery(ctx context.Context, outcome models.DiscoveryOutcome) error
}

// DeviceEvent is pushed to WebSocket clients when the discovery outcome changes.
type DeviceEvent struct {
	Type    string                  `json:"type"`
	Outcome models.DiscoveryOutcome `json:"data"`
}

// DeviceManager holds the current discovery outcome. Overlapping scans share
// a single picotool invocation.
type DeviceManager struct {
	lister   DeviceLister
	recorder DiscoveryRecorder
	logger   *slog.Logger

	group singleflight.Group

	mu      sync.RWMutex
	outcome models.DiscoveryOutcome
	hub     WebSocketBroadcaster
	now     func() time.Time
}

// NewDeviceManager creates a manager in the loading state. recorder may be
// nil; it receives each outcome that differs from the previous one.
func NewDeviceManager(lister DeviceLister, recorder DiscoveryRecorder, logger *slog.Logger) *DeviceManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceManager{
		lister:   lister,
		recorder: recorder,
		logger:   logger.With("component", "devices"),
		outcome:  models.DiscoveryOutcome{State: models.DiscoveryLoading},
		now:      time.Now,
	}
}

// SetBroadcaster wires the hub that receives device change events.
func (m *DeviceManager) SetBroadcaster(hub WebSocketBroadcaster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hub = hub
}

// Outcome returns the current discovery outcome.
func (m *DeviceManager) Outcome() models.DiscoveryOutcome {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outcome
}

// GetAllDevices returns the devices of the current outcome.
func (m *DeviceManager) GetAllDevices() []models.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	devices := make([]models.Device, len(m.outcome.Devices))
	copy(devices, m.outcome.Devices)
	return devices
}

// Scan runs discovery now. Callers that arrive while a scan is in flight
// receive that scan's outcome.
func (m *DeviceManager) Scan(ctx context.Context) models.DiscoveryOutcome {
	ch := m.group.DoChan("scan", func() (interface{}, error) {
		return m.scan(context.WithoutCancel(ctx)), nil
	})
	select {
	case res := <-ch:
		return res.Val.(models.DiscoveryOutcome)
	case <-ctx.Done():
		return m.Outcome()
	}
}

func (m *DeviceManager) scan(ctx context.Context) models.DiscoveryOutcome {
	devices, err := m.lister.ListDevices(ctx)
	outcome := models.DiscoveryOutcome{UpdatedAt: m.now().Unix()}
	if err != nil {
		outcome.State = models.DiscoveryError
		outcome.Error = err.Error()
		m.logger.Warn("device discovery failed", "error", err)
	} else {
		outcome.State = models.DiscoveryDevices
		outcome.Devices = devices
		m.logger.Debug("device discovery finished", "devices", len(devices))
	}

	m.mu.Lock()
	changed := !m.outcome.Equal(outcome)
	m.outcome = outcome
	hub := m.hub
	m.mu.Unlock()

	if changed && m.recorder != nil {
		if err := m.recorder.RecordDiscovery(ctx, outcome); err != nil {
			m.logger.Warn("failed to record discovery", "error", err)
		}
	}
	if changed && hub != nil {
		hub.BroadcastToAll(DeviceEvent{Type: "devices", Outcome: outcome})
	}
	return outcome
}

// Run scans immediately and then every interval until ctx is done.
func (m *DeviceManager) Run(ctx context.Context, interval time.Duration) {
	m.Scan(ctx)
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Scan(ctx)
		}
	}
}
