package mapslink

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/hazyhaar/mapslink/clock"
	"github.com/hazyhaar/mapslink/dom/memdom"
	"github.com/hazyhaar/mapslink/idgen"
)

func startEngine(t *testing.T, d *memdom.Document) (*Engine, *clock.Fake) {
	t.Helper()
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	e := New(d, WithLogger(quiet), WithClock(c), WithIDGenerator(idgen.Sequence()))
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Stop)
	return e, c
}

func TestEngine_StartRunsFirstPass(t *testing.T) {
	d := newDoc(t, `<div id="m" class="lu_map_section"></div>`, searchURL)
	size(t, d, "#m", 200, 200)

	e, _ := startEngine(t, d)
	if n := countAnnotations(t, d); n != 1 {
		t.Fatalf("annotations after Start: got %d, want 1", n)
	}
	if e.Processed() != 1 {
		t.Errorf("Processed: got %d, want 1", e.Processed())
	}
}

func TestEngine_OwnInsertionSettles(t *testing.T) {
	d := newDoc(t, `<div id="m" class="lu_map_section"></div>`, searchURL)
	size(t, d, "#m", 200, 200)
	e, c := startEngine(t, d)

	// The engine sees its own insertion, rescans once, and changes nothing.
	d.Flush()
	c.Advance(RescanDelay)
	d.Flush()
	c.Advance(RescanDelay)

	if n := countAnnotations(t, d); n != 1 {
		t.Fatalf("annotations: got %d, want 1", n)
	}
	if e.passes != 2 {
		t.Errorf("passes: got %d, want 2", e.passes)
	}
}

func TestEngine_SelfHealsRemovedAnnotation(t *testing.T) {
	d := newDoc(t, `<div id="m" class="lu_map_section"></div>`, searchURL)
	m := size(t, d, "#m", 200, 200)
	_, c := startEngine(t, d)
	d.Flush()
	c.Advance(RescanDelay)

	d.Remove(one(t, d, "."+AnnotationClass))
	if !m.HasAttr(MarkerAttr) {
		t.Fatal("marker should still be set before the notification")
	}
	d.Flush()
	if m.HasAttr(MarkerAttr) {
		t.Fatal("removal notification did not clear the marker")
	}
	if countAnnotations(t, d) != 0 {
		t.Fatal("annotation re-added before the rescan window")
	}

	c.Advance(RescanDelay)
	if n := countAnnotations(t, d); n != 1 {
		t.Fatalf("annotations after rescan: got %d, want 1", n)
	}
	if !isAnnotation(firstChild(m)) || !m.HasAttr(MarkerAttr) {
		t.Fatalf("annotation not restored as first child:\n%s", d.HTML())
	}
}

func TestEngine_DebounceCoalescesBurst(t *testing.T) {
	d := newDoc(t, `<div id="results"></div>`, searchURL)
	e, c := startEngine(t, d)
	results := one(t, d, "#results")

	for i := 0; i < 5; i++ {
		if _, err := d.Append(results, `<div class="g">result</div>`); err != nil {
			t.Fatal(err)
		}
		d.Flush()
		c.Advance(RescanDelay / 2)
	}
	if e.passes != 1 {
		t.Fatalf("passes during burst: got %d, want 1 (the start pass)", e.passes)
	}
	c.Advance(RescanDelay)
	if e.passes != 2 {
		t.Fatalf("passes after quiet window: got %d, want 2", e.passes)
	}
}

func TestEngine_LateMapIsAnnotated(t *testing.T) {
	d := newDoc(t, `<div id="rhs"></div>`, searchURL)
	_, c := startEngine(t, d)

	added, err := d.Append(one(t, d, "#rhs"),
		`<div data-attrid="kc:/location/location:map" id="kp"><canvas aria-label="Map"></canvas></div>`)
	if err != nil {
		t.Fatal(err)
	}
	d.SetRect(added[0], domRect(300, 250))
	d.Flush()
	c.Advance(RescanDelay)

	if n := countAnnotations(t, d); n != 1 {
		t.Fatalf("annotations: got %d, want 1", n)
	}
}

func TestEngine_NavigationReset(t *testing.T) {
	d := newDoc(t, `
		<div id="a" class="lu_map_section"></div>
		<div id="keep" data-hveid="CAE" class="ULSxyf">
			<div id="b" data-md="1"><canvas aria-label="Map"></canvas></div></div>`, searchURL)
	size(t, d, "#a", 200, 200)
	size(t, d, "#b", 200, 200)
	e, c := startEngine(t, d)
	d.Flush()
	c.Advance(RescanDelay)
	if n := countAnnotations(t, d); n != 2 {
		t.Fatalf("annotations before navigation: got %d, want 2", n)
	}

	// The host re-renders #a into a brand new node; #keep survives.
	fresh, err := d.Replace(one(t, d, "#a"), `<div id="a2" class="lu_map_section"></div>`)
	if err != nil {
		t.Fatal(err)
	}
	d.SetRect(fresh[0], domRect(200, 200))
	d.Navigate("https://www.google.com/search?q=sushi", "sushi - Search")
	d.Flush()

	if one(t, d, "#keep").HasAttr(MarkerAttr) {
		t.Fatal("navigation did not clear markers")
	}
	if e.Processed() != 0 {
		t.Errorf("Processed after navigation: got %d, want 0", e.Processed())
	}

	c.Advance(SettleDelay)
	if n := countAnnotations(t, d); n != 2 {
		t.Fatalf("annotations after settle: got %d, want 2", n)
	}
	a2 := one(t, d, "#a2")
	if !isAnnotation(firstChild(a2)) {
		t.Fatalf("re-rendered container not annotated:\n%s", d.HTML())
	}
	if href := linkHref(firstChild(a2)); !strings.HasSuffix(href, "query=sushi") {
		t.Errorf("href: got %q, want the new query", href)
	}
}

func TestEngine_TitleWithoutAddressChange(t *testing.T) {
	d := newDoc(t, `<div id="m" class="lu_map_section"></div>`, searchURL)
	m := size(t, d, "#m", 200, 200)
	_, c := startEngine(t, d)

	d.Navigate(searchURL, "same search, new title")
	d.Flush()
	if !m.HasAttr(MarkerAttr) {
		t.Fatal("title change without a new address must not clear markers")
	}
	c.Advance(SettleDelay)
	if n := countAnnotations(t, d); n != 1 {
		t.Fatalf("annotations: got %d, want 1", n)
	}
}

func TestEngine_SettleRetriggerReplacesPending(t *testing.T) {
	d := newDoc(t, ``, searchURL)
	e, c := startEngine(t, d)

	d.Navigate("https://www.google.com/search?q=one", "one")
	d.Flush()
	c.Advance(300 * time.Millisecond)
	d.Navigate("https://www.google.com/search?q=two", "two")
	d.Flush()
	c.Advance(300 * time.Millisecond)
	if e.passes != 1 {
		t.Fatalf("passes: got %d, want 1 (first settle replaced)", e.passes)
	}
	c.Advance(200 * time.Millisecond)
	if e.passes != 2 {
		t.Fatalf("passes: got %d, want 2", e.passes)
	}
}

func TestEngine_StopSilencesEverything(t *testing.T) {
	d := newDoc(t, `<div id="m" class="lu_map_section"></div>`, searchURL)
	size(t, d, "#m", 200, 200)
	e, c := startEngine(t, d)

	d.Remove(one(t, d, "."+AnnotationClass))
	e.Stop()
	d.Flush()
	c.Advance(time.Second)

	if countAnnotations(t, d) != 0 {
		t.Fatal("stopped engine re-injected")
	}
	if c.Pending() != 0 {
		t.Errorf("timers pending after Stop: %d", c.Pending())
	}
}

func TestEngine_RunPass(t *testing.T) {
	d := newDoc(t, `<div id="m" class="lu_map_section"></div>`, "https://www.google.com/search?tbm=lcl")
	size(t, d, "#m", 200, 200)
	e := New(d, WithLogger(quiet), WithClock(clock.NewFake(time.Now())), WithIDGenerator(idgen.Sequence()))

	res := e.RunPass()
	if res.Candidates != 1 || res.Outcomes[OutcomeNoQuery] != 1 || res.Injected() != 0 {
		t.Fatalf("RunPass: got %+v", res)
	}
	if res.ID != "1" || res.Trigger != "manual" {
		t.Errorf("RunPass id/trigger: got %q/%q", res.ID, res.Trigger)
	}
}

func TestEngine_ContextCancelStopsWithoutLeaks(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := newDoc(t, `<div id="m" class="lu_map_section"></div>`, searchURL)
	size(t, d, "#m", 200, 200)
	ctx, cancel := context.WithCancel(context.Background())
	e := New(d, WithLogger(quiet))
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	d.Flush() // arms the real rescan timer
	cancel()

	select {
	case <-e.done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop on context cancel")
	}
}

func TestEngine_StartAfterStop(t *testing.T) {
	d := newDoc(t, `<div id="m" class="lu_map_section"></div>`, searchURL)
	size(t, d, "#m", 200, 200)
	c := clock.NewFake(time.Now())
	e := New(d, WithLogger(quiet), WithClock(c), WithIDGenerator(idgen.Sequence()))
	e.Stop()

	if err := e.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Start after Stop: got %v, want ErrStopped", err)
	}
	if e.passes != 0 || countAnnotations(t, d) != 0 {
		t.Fatalf("stopped engine ran a pass:\n%s", d.HTML())
	}

	// Nothing may be subscribed: a removal-free insert must not arm a timer.
	if _, err := d.Append(one(t, d, "#m"), `<div class="g"></div>`); err != nil {
		t.Fatal(err)
	}
	d.Flush()
	if c.Pending() != 0 {
		t.Errorf("timers pending: got %d, want 0", c.Pending())
	}
}
