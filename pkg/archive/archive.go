// Package archive iterates the members of tar/zip archive bodies,
// yielding a stream of (path, type, data, mtime) the Source action
// consumes to write one Destination per member (spec.md §4.5).
package archive

import (
	"io"
	"time"

	"github.com/cuemby/fetch/pkg/types"
)

// Member is one entry inside an archive.
type Member struct {
	Path   string
	Type   types.DestinationType
	MTime  time.Time
	Data   io.Reader // for Type == DestFile; nil otherwise
	Target string    // for Type == DestLink; the link target path
}

// Iterator yields archive members in order. Next returns io.EOF when
// exhausted. Close releases any scratch resources (e.g. the zip
// adapter's buffered temp file).
type Iterator interface {
	Next() (*Member, error)
	Close() error
}

// Opener opens a streamed body as an archive of a particular format.
type Opener func(body io.Reader) (Iterator, error)

// registry maps a normalized format name to its Opener, populated at
// init (spec.md §9: "a fixed registry... avoid dynamic module loading").
var registry = map[string]Opener{}

func register(format string, open Opener) {
	registry[format] = open
}

// Open opens body as the named format ("tar" or "zip").
func Open(format string, body io.Reader) (Iterator, error) {
	open, ok := registry[format]
	if !ok {
		return nil, errUnsupportedFormat(format)
	}
	return open(body)
}

type errUnsupportedFormat string

func (e errUnsupportedFormat) Error() string {
	return "unsupported archive format: " + string(e)
}
