package annotator

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"go.uber.org/goleak"

	"github.com/hazyhaar/mapslink/dom"
	"github.com/hazyhaar/mapslink/dom/memdom"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func mapDoc(t *testing.T, location string) *memdom.Document {
	t.Helper()
	d, err := memdom.ParseString(
		`<html><head><title>x</title></head><body><div class="lu_map_section"></div></body></html>`,
		location,
		memdom.WithLogger(quiet),
		memdom.WithDefaultRect(dom.Rect{Width: 400, Height: 300}),
	)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func newAnnotator(t *testing.T) *Annotator {
	t.Helper()
	a, err := New(&Config{}, quiet)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestNew_RejectsUnknownMode(t *testing.T) {
	cfg := &Config{Browser: BrowserConfig{Stealth: "invisible"}}
	if _, err := New(cfg, quiet); err == nil {
		t.Fatal("expected an error for an unknown stealth mode")
	}
}

func TestAttach_RunsEngine(t *testing.T) {
	a := newAnnotator(t)
	defer a.Stop()

	d := mapDoc(t, "https://www.google.com/search?q=coffee")
	s, err := a.Attach(context.Background(), "p1", "https://www.google.com/search?q=coffee", d)
	if err != nil {
		t.Fatal(err)
	}
	if s.Engine().Processed() != 1 {
		t.Fatalf("Processed: got %d, want 1", s.Engine().Processed())
	}

	rep := a.Report()
	if len(rep) != 1 || rep[0].ID != "p1" || rep[0].Processed != 1 {
		t.Fatalf("Report: got %+v", rep)
	}
	if rep[0].Location != "https://www.google.com/search?q=coffee" {
		t.Errorf("Location: got %q", rep[0].Location)
	}
}

func TestAttach_DuplicateID(t *testing.T) {
	a := newAnnotator(t)
	defer a.Stop()

	ctx := context.Background()
	if _, err := a.Attach(ctx, "p1", "u", mapDoc(t, "https://www.google.com/search?q=a")); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Attach(ctx, "p1", "u", mapDoc(t, "https://www.google.com/search?q=b")); err == nil {
		t.Fatal("second Attach with the same id: expected an error")
	}
}

func TestDetach_RunsClosersInReverse(t *testing.T) {
	a := newAnnotator(t)
	defer a.Stop()

	var order []string
	_, err := a.Attach(context.Background(), "p1", "u", mapDoc(t, "https://www.google.com/search?q=a"),
		func() { order = append(order, "tab") },
		func() { order = append(order, "doc") },
	)
	if err != nil {
		t.Fatal(err)
	}

	if !a.Detach("p1") {
		t.Fatal("Detach: session not found")
	}
	if len(order) != 2 || order[0] != "doc" || order[1] != "tab" {
		t.Fatalf("closer order: got %v, want [doc tab]", order)
	}
	if a.Detach("p1") {
		t.Fatal("second Detach reported a session")
	}
	if len(a.Report()) != 0 {
		t.Fatal("Report lists a detached session")
	}
}

func TestStop_NoLeaks(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newAnnotator(t)
	for _, id := range []string{"a", "b"} {
		if _, err := a.Attach(ctx, id, "u", mapDoc(t, "https://www.google.com/search?q="+id)); err != nil {
			t.Fatal(err)
		}
	}
	a.Stop()
	if len(a.Report()) != 0 {
		t.Fatal("sessions survived Stop")
	}
}
