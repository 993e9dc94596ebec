package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"picocontrol/config"
	"picocontrol/models"
	"picocontrol/store"
)

type fakeLister struct {
	calls   atomic.Int32
	release chan struct{}
	devices []models.Device
	err     error
}

func (f *fakeLister) ListDevices(ctx context.Context) ([]models.Device, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	return f.devices, f.err
}

type fakeHub struct {
	mu     sync.Mutex
	events []interface{}
}

func (h *fakeHub) BroadcastToAll(message interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, message)
}

func (h *fakeHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []models.DiscoveryOutcome
}

func (r *fakeRecorder) RecordDiscovery(ctx context.Context, o models.DiscoveryOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	return nil
}

var pico = models.Device{ID: "unknown", Label: "blink", Connected: true, Image: "blink.elf", State: "BOOTSEL"}

func TestDeviceManagerStartsLoading(t *testing.T) {
	m := NewDeviceManager(&fakeLister{}, nil, nil)
	if got := m.Outcome().State; got != models.DiscoveryLoading {
		t.Fatalf("initial state = %s", got)
	}
}

func TestDeviceManagerScanBroadcastsChanges(t *testing.T) {
	lister := &fakeLister{devices: []models.Device{pico}}
	recorder := &fakeRecorder{}
	hub := &fakeHub{}
	m := NewDeviceManager(lister, recorder, nil)
	m.SetBroadcaster(hub)
	ctx := context.Background()

	outcome := m.Scan(ctx)
	if outcome.State != models.DiscoveryDevices || len(outcome.Devices) != 1 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	m.Scan(ctx)
	if hub.count() != 1 {
		t.Errorf("unchanged outcome should not be broadcast again, got %d events", hub.count())
	}

	lister.err = errors.New("Failed to execute picotool")
	outcome = m.Scan(ctx)
	if outcome.State != models.DiscoveryError || outcome.Error == "" {
		t.Fatalf("expected error outcome, got %+v", outcome)
	}
	if hub.count() != 2 {
		t.Errorf("expected 2 events, got %d", hub.count())
	}
	if len(recorder.outcomes) != 2 {
		t.Errorf("expected only changed outcomes recorded, got %d", len(recorder.outcomes))
	}
	if ev, ok := hub.events[1].(DeviceEvent); !ok || ev.Type != "devices" {
		t.Errorf("unexpected event %#v", hub.events[1])
	}
}

func TestDeviceManagerCoalescesScans(t *testing.T) {
	lister := &fakeLister{release: make(chan struct{}), devices: []models.Device{pico}}
	m := NewDeviceManager(lister, nil, nil)

	var wg sync.WaitGroup
	results := make([]models.DiscoveryOutcome, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Scan(context.Background())
		}(i)
	}
	// Give the goroutines time to join the in-flight scan.
	time.Sleep(100 * time.Millisecond)
	close(lister.release)
	wg.Wait()

	if n := lister.calls.Load(); n != 1 {
		t.Errorf("expected one picotool call, got %d", n)
	}
	for i, r := range results {
		if r.State != models.DiscoveryDevices {
			t.Errorf("result %d: %+v", i, r)
		}
	}
}

func TestDeviceManagerRunStopsWithContext(t *testing.T) {
	lister := &fakeLister{}
	m := NewDeviceManager(lister, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if lister.calls.Load() < 2 {
		t.Errorf("expected repeated scans, got %d", lister.calls.Load())
	}
	if m.Outcome().State != models.DiscoveryDevices {
		t.Errorf("empty device list should be a devices outcome, got %s", m.Outcome().State)
	}
}

func TestDeviceManagerRecordsOnlyChanges(t *testing.T) {
	db, err := config.InitDatabase(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("InitDatabase: %v", err)
	}
	defer db.Close()
	history := store.New(db)
	lister := &fakeLister{devices: []models.Device{pico}}
	m := NewDeviceManager(lister, history, nil)
	ctx := context.Background()

	m.Scan(ctx)
	m.Scan(ctx)
	entries, err := history.RecentDiscoveries(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("two identical scans should leave one history row, got %d", len(entries))
	}

	lister.devices = nil
	m.Scan(ctx)
	entries, err = history.RecentDiscoveries(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].DeviceCount != 0 {
		t.Errorf("expected the unplug to be recorded, got %+v", entries)
	}
}
