// CLAUDE:SUMMARY Orchestrates Chrome, one roddom document and one mapslink engine per configured results page.
// Package annotator runs mapslink engines against live pages. It owns the
// browser, opens one tab per configured results page, and attaches an engine
// to each tab once the page has loaded.
package annotator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/mapslink/annotator/internal/browser"
	"github.com/hazyhaar/mapslink/dom"
	"github.com/hazyhaar/mapslink/dom/roddom"
	"github.com/hazyhaar/mapslink/mapslink"
)

// Annotator is the top-level orchestrator. Create one per process.
type Annotator struct {
	cfg      *Config
	mgr      *browser.Manager
	logger   *slog.Logger
	engOpts  []mapslink.Option
	mu       sync.Mutex
	sessions map[string]*Session
}

// Session is one document with its engine.
type Session struct {
	ID      string
	URL     string
	doc     dom.Document
	engine  *mapslink.Engine
	closers []func()
}

// Engine returns the session's engine.
func (s *Session) Engine() *mapslink.Engine { return s.engine }

func (s *Session) close() {
	s.engine.Stop()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// PageReport is a point-in-time view of one session.
type PageReport struct {
	ID        string
	URL       string
	Location  string
	Processed int
}

// New creates an Annotator from configuration. Engine options are applied to
// every engine it creates; the logger is always set per page.
func New(cfg *Config, logger *slog.Logger, opts ...mapslink.Option) (*Annotator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.ApplyDefaults()

	mode, err := browser.ParseMode(cfg.Browser.Stealth)
	if err != nil {
		return nil, fmt.Errorf("annotator: %w", err)
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Mode:             mode,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		NavigateTimeout:  cfg.Browser.NavigateTimeout,
		Logger:           logger,
	})

	return &Annotator{
		cfg:      cfg,
		mgr:      mgr,
		logger:   logger,
		engOpts:  opts,
		sessions: make(map[string]*Session),
	}, nil
}

// Start launches the browser and annotates every configured page. Pages are
// opened concurrently, at most MaxOpenTabs at a time. A page that fails to
// open is logged and skipped; Start fails only when none could be opened.
func (a *Annotator) Start(ctx context.Context) error {
	if _, err := a.mgr.Start(ctx); err != nil {
		return fmt.Errorf("annotator: start browser: %w", err)
	}

	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed []error
	)
	g.SetLimit(a.cfg.Browser.MaxOpenTabs)
	for _, page := range a.cfg.Pages {
		page := page
		g.Go(func() error {
			if _, err := a.AnnotatePage(ctx, page); err != nil {
				a.logger.Error("annotator: failed to annotate page", "url", page.URL, "id", page.ID, "error", err)
				mu.Lock()
				failed = append(failed, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(a.cfg.Pages) > 0 && len(failed) == len(a.cfg.Pages) {
		return fmt.Errorf("annotator: no page could be opened: %w", errors.Join(failed...))
	}
	return nil
}

// AnnotatePage opens pageCfg in a new tab and attaches an engine to it.
func (a *Annotator) AnnotatePage(ctx context.Context, pageCfg PageConfig) (*Session, error) {
	tab, err := a.mgr.OpenTab(ctx, pageCfg.URL, pageCfg.ID)
	if err != nil {
		return nil, fmt.Errorf("annotator: open tab: %w", err)
	}

	doc, err := roddom.Attach(ctx, tab.Page,
		roddom.WithLogger(a.logger.With("page", pageCfg.ID)),
		roddom.WithSanitizer(mapslink.SanitizeAnnotation),
	)
	if err != nil {
		tab.Close()
		return nil, fmt.Errorf("annotator: attach document: %w", err)
	}

	s, err := a.Attach(ctx, pageCfg.ID, pageCfg.URL, doc, func() { tab.Close() }, doc.Close)
	if err != nil {
		doc.Close()
		tab.Close()
		return nil, err
	}
	return s, nil
}

// Attach starts an engine on doc and registers it under id. closers run in
// reverse order after the engine stops, when the session is detached.
func (a *Annotator) Attach(ctx context.Context, id, url string, doc dom.Document, closers ...func()) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.sessions[id]; ok {
		return nil, fmt.Errorf("annotator: page %q already attached", id)
	}

	opts := append([]mapslink.Option{mapslink.WithLogger(a.logger.With("page", id))}, a.engOpts...)
	engine := mapslink.New(doc, opts...)
	if err := engine.Start(ctx); err != nil {
		return nil, fmt.Errorf("annotator: start engine: %w", err)
	}

	s := &Session{ID: id, URL: url, doc: doc, engine: engine, closers: closers}
	a.sessions[id] = s
	a.logger.Info("annotator: annotating page", "url", url, "id", id)
	return s, nil
}

// Detach stops the session registered under id. It reports whether one
// existed.
func (a *Annotator) Detach(id string) bool {
	a.mu.Lock()
	s, ok := a.sessions[id]
	delete(a.sessions, id)
	a.mu.Unlock()

	if ok {
		s.close()
		a.logger.Info("annotator: detached page", "id", id)
	}
	return ok
}

// Report lists every session, ordered by ID.
func (a *Annotator) Report() []PageReport {
	a.mu.Lock()
	sessions := make([]*Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.mu.Unlock()

	out := make([]PageReport, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, PageReport{
			ID:        s.ID,
			URL:       s.URL,
			Location:  s.doc.Location(),
			Processed: s.engine.Processed(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stop detaches every page and shuts the browser down.
func (a *Annotator) Stop() {
	a.mu.Lock()
	sessions := a.sessions
	a.sessions = make(map[string]*Session)
	a.mu.Unlock()

	for id, s := range sessions {
		s.close()
		a.logger.Info("annotator: stopped page", "id", id)
	}
	if err := a.mgr.Close(); err != nil {
		a.logger.Warn("annotator: close browser", "error", err)
	}
}
