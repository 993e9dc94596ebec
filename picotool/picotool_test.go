package picotool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// fakePicotool writes a shell script standing in for picotool.
func fakePicotool(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "picotool")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestClientListDevicesSentinelExit(t *testing.T) {
	path := fakePicotool(t, `echo "No accessible RP2040 devices in BOOTSEL mode were found."
echo "Device at bus 2, address 9 appears to be a RP2040 PicoProbe device not in BOOTSEL mode."
exit 249`)

	devices, err := NewClient(path).ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices returned error: %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "/dev/sda2" || !devices[0].Connected {
		t.Fatalf("unexpected devices %+v", devices)
	}
}

func TestClientListDevicesFailure(t *testing.T) {
	path := fakePicotool(t, `echo "ERROR: unable to access USB" >&2
exit 3`)

	_, err := NewClient(path).ListDevices(context.Background())
	var derr *DiscoveryError
	if !errors.As(err, &derr) || derr.Kind != KindInvocation {
		t.Fatalf("expected invocation error, got %v", err)
	}
}

func TestClientMissingBinary(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "does-not-exist"))
	out := client.Info(context.Background())
	if out.Err == nil || out.ExitCode != -1 {
		t.Fatalf("expected start failure, got %+v", out)
	}
	if _, err := ParseOutput(out); err == nil {
		t.Fatal("expected discovery error for missing binary")
	}
}

func TestClientTimeout(t *testing.T) {
	path := fakePicotool(t, "exec sleep 5")
	client := NewClient(path)
	client.Timeout = 50 * time.Millisecond

	start := time.Now()
	out := client.Info(context.Background())
	if out.Err == nil {
		t.Fatal("expected the hung invocation to be killed")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("timeout not applied, took %v", time.Since(start))
	}
}

func TestLoadCommand(t *testing.T) {
	client := NewClient("/opt/pico/picotool")
	got := client.LoadCommand("/ws/blink/build/blink.elf")
	want := "/opt/pico/picotool load -x /ws/blink/build/blink.elf -f"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
