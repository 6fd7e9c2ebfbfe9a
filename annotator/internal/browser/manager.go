// CLAUDE:SUMMARY Starts or connects to Chrome for the annotator, with optional Xvfb for headful mode.
// Package browser manages the Chrome instance the annotator drives: launch a
// local headless-shell or connect to a remote one, run Xvfb for headful
// mode, and open prepared tabs.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Mode controls how Chrome is run.
type Mode int

const (
	Headless Mode = iota // rod headless + stealth
	Headful              // rod headful on an Xvfb display
)

// ParseMode maps the config spelling to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "headless":
		return Headless, nil
	case "headful":
		return Headful, nil
	}
	return Headless, fmt.Errorf("browser: unknown mode %q", s)
}

func (m Mode) String() string {
	if m == Headful {
		return "headful"
	}
	return "headless"
}

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// ResourceBlocking lists resource types to block (images, fonts, media, stylesheets).
	ResourceBlocking []string

	Mode Mode

	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string

	// NavigateTimeout bounds navigation plus load of a new tab. Default: 30s.
	NavigateTimeout time.Duration

	// Viewport size applied to every tab before navigation. Default: 1366x900.
	ViewportWidth  int
	ViewportHeight int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		c.ViewportWidth, c.ViewportHeight = 1366, 900
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome process or remote connection.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	closed  bool
}

// NewManager creates a browser Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome (or connects to a remote instance) and returns the
// rod browser handle. Starting a running manager returns the same handle.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if m.browser != nil {
		return m.browser, nil
	}

	b, err := m.launch(ctx)
	if err != nil {
		m.cleanup()
		return nil, err
	}
	m.browser = b
	return b, nil
}

// Browser returns the current rod browser handle, nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Close shuts down a launched Chrome and Xvfb. A remote browser is left
// running.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.cleanup()
}

func (m *Manager) launch(ctx context.Context) (*rod.Browser, error) {
	log := m.cfg.Logger

	if m.cfg.Mode == Headful && m.cfg.RemoteURL == "" {
		if err := m.startXvfb(ctx); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Context(ctx)
		if m.cfg.Mode == Headful {
			l = l.Headless(false).Env(append(os.Environ(), "DISPLAY="+m.cfg.XvfbDisplay)...)
		} else {
			l = l.Headless(true)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "mode", m.cfg.Mode)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) cleanup() error {
	var err error
	if m.browser != nil {
		if m.lnch != nil {
			err = m.browser.Close()
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
	return err
}
