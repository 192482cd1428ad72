package storage

import (
	"context"
	"fmt"
	"sync"

	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/metadata"
)

// Memory keeps one block in process. Streams can be dropped or truncated
// to simulate storage faults.
type Memory struct {
	session

	mu      sync.Mutex
	meta    []byte
	streams [][]byte
	dropped map[int]bool

	stats MemoryStats
}

// MemoryStats counts served requests.
type MemoryStats struct {
	Fetches   int64
	Ranges    int64
	BytesRead int64
	Failures  int64
}

// NewMemory returns an empty in-memory gateway.
func NewMemory() *Memory {
	return &Memory{dropped: make(map[int]bool)}
}

// Write implements Writer.
func (m *Memory) Write(ctx context.Context, md *metadata.Metadata, streams [][]byte) error {
	if err := checkStreams(md, streams); err != nil {
		return err
	}
	data, err := md.Marshal()
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta = data
	m.streams = make([][]byte, len(streams))
	for l, s := range streams {
		m.streams[l] = append([]byte(nil), s...)
	}
	return nil
}

// LoadMetadata implements Reader.
func (m *Memory) LoadMetadata(ctx context.Context) (*metadata.Metadata, error) {
	m.mu.Lock()
	data := m.meta
	m.mu.Unlock()

	if data == nil {
		return nil, fmt.Errorf("metadata: %w: %w", mdrerrors.ErrRetrievalIO, mdrerrors.ErrStreamMissing)
	}
	md, err := metadata.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	m.set(md)
	return md, nil
}

// Fetch implements Reader.
func (m *Memory) Fetch(ctx context.Context, ranges []Range) ([]Result, error) {
	if err := m.check(ranges); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Fetches++
	results := make([]Result, len(ranges))
	for i, r := range ranges {
		results[i].Range = r
		m.stats.Ranges++

		if m.dropped[r.Level] || r.Level >= len(m.streams) {
			results[i].Err = mdrerrors.NewRetrieval(r.Level, mdrerrors.ErrStreamMissing)
			m.stats.Failures++
			continue
		}
		s := m.streams[r.Level]
		if r.Offset+r.Length > int64(len(s)) {
			results[i].Err = mdrerrors.NewRetrieval(r.Level,
				fmt.Errorf("%d of %d bytes: %w", max(int64(len(s))-r.Offset, 0), r.Length, mdrerrors.ErrStreamTruncated))
			m.stats.Failures++
			continue
		}
		results[i].Data = append([]byte(nil), s[r.Offset:r.Offset+r.Length]...)
		m.stats.BytesRead += r.Length
	}
	return results, nil
}

// Drop makes a level stream unavailable.
func (m *Memory) Drop(level int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[level] = true
}

// Restore undoes Drop.
func (m *Memory) Restore(level int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dropped, level)
}

// Truncate cuts a level stream to n bytes.
func (m *Memory) Truncate(level int, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if level < len(m.streams) && n < len(m.streams[level]) {
		m.streams[level] = m.streams[level][:n]
	}
}

// CorruptMetadata flips the bits of one metadata byte.
func (m *Memory) CorruptMetadata(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < len(m.meta) {
		m.meta[i] ^= 0xFF
	}
}

// Stats returns request statistics.
func (m *Memory) Stats() MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
