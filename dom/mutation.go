package dom

import "strings"

// Op is the kind of child-list mutation observed.
type Op string

const (
	OpInsert Op = "insert" // a node was added under Target
	OpRemove Op = "remove" // a node was removed from Target
)

// Record is a single child-list mutation. Removed nodes are usually gone from
// the live tree by the time the record is read, so the record carries what
// consumers need to recognise them.
type Record struct {
	Op Op
	// Target is the parent the node was inserted into or removed from.
	Target Node
	Tag    string
	// Class is the class attribute of the inserted or removed node.
	Class string
}

// HasClassToken reports whether a class attribute value contains token as a
// whole whitespace-separated entry.
func HasClassToken(class, token string) bool {
	for _, c := range strings.Fields(class) {
		if c == token {
			return true
		}
	}
	return false
}

// HasClass is HasClassToken applied to n's class attribute.
func HasClass(n Node, token string) bool {
	return HasClassToken(n.Attr("class"), token)
}
