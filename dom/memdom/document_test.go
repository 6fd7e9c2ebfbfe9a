package memdom

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/hazyhaar/mapslink/dom"
)

const page = `<html><head><title>pizza</title></head><body>
<div id="outer" class="ULSxyf" data-hveid="CAQ">
  <div id="inner" class="lu_map_section"><canvas aria-label="Map of results"></canvas></div>
</div>
</body></html>`

func mustParse(t *testing.T) *Document {
	t.Helper()
	d, err := ParseString(page, "https://www.google.com/search?q=pizza")
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func mustOne(t *testing.T, d *Document, sel string) dom.Node {
	t.Helper()
	ns, err := d.QueryAll(sel)
	if err != nil {
		t.Fatalf("QueryAll(%q): %v", sel, err)
	}
	if len(ns) != 1 {
		t.Fatalf("QueryAll(%q): got %d nodes, want 1", sel, len(ns))
	}
	return ns[0]
}

func TestQueryAndIdentity(t *testing.T) {
	d := mustParse(t)
	a := mustOne(t, d, ".lu_map_section")
	b := mustOne(t, d, "#inner")
	if a.ID() != b.ID() {
		t.Errorf("same element wrapped twice: ids %d and %d", a.ID(), b.ID())
	}
	if a.Tag() != "div" {
		t.Errorf("Tag: got %q, want div", a.Tag())
	}
	if got := a.Parent().Attr("id"); got != "outer" {
		t.Errorf("Parent id: got %q, want outer", got)
	}
}

func TestClosestIncludesSelf(t *testing.T) {
	d := mustParse(t)
	inner := mustOne(t, d, "#inner")

	self, err := inner.Closest(".lu_map_section")
	if err != nil || self == nil || self.ID() != inner.ID() {
		t.Fatalf("Closest self: got %v, %v", self, err)
	}
	anc, err := inner.Closest("[data-hveid]")
	if err != nil || anc == nil || anc.Attr("id") != "outer" {
		t.Fatalf("Closest ancestor: got %v, %v", anc, err)
	}
	none, err := inner.Closest("[data-attrid]")
	if err != nil || none != nil {
		t.Fatalf("Closest none: got %v, %v", none, err)
	}
}

func TestInvalidSelector(t *testing.T) {
	d := mustParse(t)
	_, err := d.QueryAll("div[[")
	var se *dom.SelectorError
	if !errors.As(err, &se) {
		t.Fatalf("QueryAll bad selector: got %v, want *dom.SelectorError", err)
	}
}

func TestMissingAttrIsEmpty(t *testing.T) {
	d := mustParse(t)
	inner := mustOne(t, d, "#inner")
	if inner.HasAttr("data-missing") || inner.Attr("data-missing") != "" {
		t.Error("missing attribute should read as empty and absent")
	}
	if err := inner.SetAttr("data-x", "1"); err != nil {
		t.Fatal(err)
	}
	if inner.Attr("data-x") != "1" {
		t.Errorf("SetAttr: got %q", inner.Attr("data-x"))
	}
	inner.RemoveAttr("data-x")
	if inner.HasAttr("data-x") {
		t.Error("RemoveAttr left the attribute")
	}
}

func TestInsertFirstQueuesUntilFlush(t *testing.T) {
	d := mustParse(t)
	inner := mustOne(t, d, "#inner")

	var got []dom.Record
	cancel := d.Observe(func(recs []dom.Record) { got = append(got, recs...) })
	defer cancel()

	tree := &html.Node{Type: html.ElementNode, Data: "div", Attr: []html.Attribute{{Key: "class", Val: "x"}}}
	if err := inner.InsertFirst(tree); err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("records delivered before Flush: %d", len(got))
	}
	d.Flush()
	if len(got) != 1 || got[0].Op != dom.OpInsert || got[0].Class != "x" {
		t.Fatalf("records: got %+v", got)
	}
	if got[0].Target.ID() != inner.ID() {
		t.Error("record target is not the insertion parent")
	}
	if !strings.Contains(d.HTML(), `<div id="inner" class="lu_map_section"><div class="x"></div><canvas`) {
		t.Errorf("tree not inserted first:\n%s", d.HTML())
	}

	if err := inner.InsertFirst(tree); err == nil {
		t.Error("re-inserting an attached tree should fail")
	}
}

func TestRemoveAndReplace(t *testing.T) {
	d := mustParse(t)
	outer := mustOne(t, d, "#outer")

	var got []dom.Record
	d.Observe(func(recs []dom.Record) { got = append(got, recs...) })

	added, err := d.Replace(outer, `<div id="fresh" class="lu_map_section"></div>`)
	if err != nil {
		t.Fatal(err)
	}
	if len(added) != 1 || added[0].Attr("id") != "fresh" {
		t.Fatalf("Replace: got %v", added)
	}
	d.Remove(added[0])
	d.Flush()

	ops := make([]dom.Op, len(got))
	for i, r := range got {
		ops[i] = r.Op
	}
	want := []dom.Op{dom.OpInsert, dom.OpRemove, dom.OpRemove}
	if len(ops) != len(want) {
		t.Fatalf("ops: got %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("ops: got %v, want %v", ops, want)
		}
	}
	if got[2].Class != "lu_map_section" {
		t.Errorf("removed class: got %q", got[2].Class)
	}
}

func TestNavigateNotifiesTitleObservers(t *testing.T) {
	d := mustParse(t)
	calls := 0
	d.ObserveTitle(func() { calls++ })

	d.Flush()
	if calls != 0 {
		t.Fatalf("title observer ran without a change")
	}
	d.Navigate("https://www.google.com/search?q=sushi", "sushi")
	d.Flush()
	if calls != 1 {
		t.Fatalf("title observer calls: got %d, want 1", calls)
	}
	if d.Title() != "sushi" || d.Location() != "https://www.google.com/search?q=sushi" {
		t.Errorf("after Navigate: title %q location %q", d.Title(), d.Location())
	}
}

func TestRectDefaults(t *testing.T) {
	d, err := ParseString(page, "", WithDefaultRect(dom.Rect{Width: 800, Height: 600}))
	if err != nil {
		t.Fatal(err)
	}
	inner := mustOne(t, d, "#inner")
	r, _ := inner.Rect()
	if r.Width != 800 {
		t.Errorf("default rect width: got %v, want 800", r.Width)
	}
	d.SetRect(inner, dom.Rect{Width: 50, Height: 50})
	r, _ = inner.Rect()
	if r.Width != 50 {
		t.Errorf("explicit rect width: got %v, want 50", r.Width)
	}
}
