// Package idgen generates the identifiers that tag engine runs and scan
// passes in logs, so every line of one pass can be grouped.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable, so passes of one run sort in the order they ran.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Sequence returns a Generator producing "1", "2", ... Deterministic, for tests.
func Sequence() Generator {
	var n atomic.Uint64
	return func() string {
		return strconv.FormatUint(n.Add(1), 10)
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID
// (e.g. "run_", "pass_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()
