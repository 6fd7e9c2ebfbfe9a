package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// startXvfb launches an Xvfb virtual display and waits until its socket
// appears, at most five seconds.
func (m *Manager) startXvfb(ctx context.Context) error {
	if m.xvfb != nil {
		return nil
	}

	display := m.cfg.XvfbDisplay
	cmd := exec.Command("Xvfb", display, "-screen", "0", "1920x1080x24", "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	m.xvfb = cmd

	socket := xSocket(display)
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(socket); err == nil {
			break
		}
		if time.Now().After(deadline) {
			m.stopXvfb()
			return fmt.Errorf("xvfb display %s not ready", display)
		}
		select {
		case <-ctx.Done():
			m.stopXvfb()
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	m.cfg.Logger.Info("browser: xvfb started", "display", display, "pid", cmd.Process.Pid)
	return nil
}

// stopXvfb kills the Xvfb process if running.
func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	if m.xvfb.Process != nil {
		_ = m.xvfb.Process.Kill()
		_ = m.xvfb.Wait()
	}
	m.cfg.Logger.Info("browser: xvfb stopped")
	m.xvfb = nil
}

// xSocket is the unix socket an X server listens on for display, e.g.
// ":99" or ":99.0" → /tmp/.X11-unix/X99.
func xSocket(display string) string {
	n := strings.TrimPrefix(display, ":")
	if i := strings.IndexByte(n, '.'); i >= 0 {
		n = n[:i]
	}
	return "/tmp/.X11-unix/X" + n
}
