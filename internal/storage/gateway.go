package storage

import (
	"context"
	"fmt"
	"sync"

	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/metadata"
)

// MetadataLevel addresses the metadata stream in stream listings.
const MetadataLevel = -1

// Writer persists one refactored field.
type Writer interface {
	// Write stores md and the level streams; streams[l] holds the stored
	// bitplane chunks of level l back to back.
	Write(ctx context.Context, md *metadata.Metadata, streams [][]byte) error
}

// Reader serves metadata and level byte ranges.
type Reader interface {
	LoadMetadata(ctx context.Context) (*metadata.Metadata, error)
	// Fetch returns one Result per range, in request order. Per-range
	// failures are reported on the Result and wrap ErrRetrievalIO.
	Fetch(ctx context.Context, ranges []Range) ([]Result, error)
}

// Gateway is a Reader that can also be written.
type Gateway interface {
	Writer
	Reader
}

// Range is a byte range of one level stream.
type Range struct {
	Level  int
	Offset int64
	Length int64
}

// Result is the outcome of fetching one Range.
type Result struct {
	Range
	Data []byte
	Err  error
}

// session tracks the metadata a Reader has loaded.
type session struct {
	mu sync.RWMutex
	md *metadata.Metadata
}

func (s *session) set(md *metadata.Metadata) {
	s.mu.Lock()
	s.md = md
	s.mu.Unlock()
}

// check rejects Fetch calls before LoadMetadata and ranges outside the
// loaded level streams.
func (s *session) check(ranges []Range) error {
	s.mu.RLock()
	md := s.md
	s.mu.RUnlock()

	if md == nil {
		return fmt.Errorf("fetch before metadata load: %w: %w", mdrerrors.ErrInvalidState, mdrerrors.ErrMetadataNotLoaded)
	}
	for _, r := range ranges {
		if r.Level < 0 || r.Level >= len(md.Levels) {
			return fmt.Errorf("level %d of %d: %w", r.Level, len(md.Levels), mdrerrors.ErrInvalidRange)
		}
		if r.Offset < 0 || r.Length < 0 || r.Offset+r.Length > md.Levels[r.Level].StreamSize() {
			return fmt.Errorf("level %d range [%d, %d) of %d bytes: %w",
				r.Level, r.Offset, r.Offset+r.Length, md.Levels[r.Level].StreamSize(), mdrerrors.ErrInvalidRange)
		}
	}
	return nil
}

func checkStreams(md *metadata.Metadata, streams [][]byte) error {
	if len(streams) != len(md.Levels) {
		return fmt.Errorf("%d streams for %d levels: %w", len(streams), len(md.Levels), mdrerrors.ErrSizeMismatch)
	}
	for l, s := range streams {
		if want := md.Levels[l].StreamSize(); int64(len(s)) != want {
			return fmt.Errorf("level %d stream: %d bytes, metadata says %d: %w", l, len(s), want, mdrerrors.ErrSizeMismatch)
		}
	}
	return nil
}

// LevelRequest converts a bitplane range of a level into a byte Range.
func LevelRequest(md *metadata.Metadata, level, start, end int) Range {
	off, n := md.Levels[level].Range(start, end)
	return Range{Level: level, Offset: off, Length: n}
}
