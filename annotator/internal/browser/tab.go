package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab is a stealth page navigated to a results URL and loaded.
type Tab struct {
	Page   *rod.Page
	URL    string
	ID     string
	router *rod.HijackRouter
}

// OpenTab creates a stealth tab at the configured viewport size, applies
// resource blocking, navigates to pageURL and waits for the load event. The
// load event is the point where the page is ready for annotation.
func (m *Manager) OpenTab(ctx context.Context, pageURL, pageID string) (*Tab, error) {
	b := m.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	t := &Tab{Page: page, URL: pageURL, ID: pageID}

	if err := t.Viewport(m.cfg.ViewportWidth, m.cfg.ViewportHeight); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: viewport: %w", err)
	}
	if len(m.cfg.ResourceBlocking) > 0 {
		t.router = blockResources(page, m.cfg.ResourceBlocking)
	}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	// Force a layout so bounding boxes are meaningful on the first scan.
	if _, err := page.Eval(`() => document.documentElement.offsetHeight`); err != nil {
		m.cfg.Logger.Debug("browser: force layout", "error", err)
	}

	m.cfg.Logger.Info("browser: tab ready", "url", pageURL, "id", pageID)
	return t, nil
}

// Viewport sets the tab's device metrics. Map widgets lay out against the
// viewport width, so a narrow default can hide them.
func (t *Tab) Viewport(width, height int) error {
	return proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	}.Call(t.Page)
}

// Close stops request interception and closes the tab.
func (t *Tab) Close() error {
	if t.router != nil {
		_ = t.router.Stop()
		t.router = nil
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
