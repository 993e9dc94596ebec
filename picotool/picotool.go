package picotool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"picocontrol/models"
)

// NoDeviceExitCode is what picotool exits with when it finds no device in
// BOOTSEL mode. It is not treated as a failure.
const NoDeviceExitCode = 249

// Client wraps picotool command execution
type Client struct {
	PicotoolPath string
	// Timeout bounds a single invocation. Zero means no limit.
	Timeout time.Duration
}

// NewClient creates a picotool client. An empty path falls back to "picotool" on PATH.
func NewClient(path string) *Client {
	if path == "" {
		path = "picotool"
	}
	return &Client{PicotoolPath: path}
}

// Output is the captured result of one picotool invocation.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Err is set when the process could not start or exited non-zero.
	Err error
}

// Info runs `picotool info -b` and captures its output.
func (c *Client) Info(ctx context.Context) Output {
	return c.run(ctx, "info", "-b")
}

// ListDevices runs picotool and parses its report into device records.
func (c *Client) ListDevices(ctx context.Context) ([]models.Device, error) {
	return ParseOutput(c.Info(ctx))
}

// Load flashes an ELF or UF2 image and reboots the device into it.
func (c *Client) Load(ctx context.Context, image string) (string, error) {
	out := c.run(ctx, "load", "-x", image, "-f")
	if out.Err != nil {
		return out.Stdout, fmt.Errorf("picotool load failed: %w, stderr: %s", out.Err, strings.TrimSpace(out.Stderr))
	}
	return out.Stdout, nil
}

// LoadCommand renders the shell command line used for flashing through the task runner.
func (c *Client) LoadCommand(image string) string {
	return fmt.Sprintf("%s load -x %s -f", c.PicotoolPath, image)
}

func (c *Client) run(ctx context.Context, args ...string) Output {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.PicotoolPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children that inherit the pipes must not keep Run blocked after a kill.
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	out := Output{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Err:    err,
	}
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
	case err != nil:
		out.ExitCode = -1
	}
	return out
}
