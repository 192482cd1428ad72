package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/metadata"
)

// Container file format:
// - Magic "MDRC" (4 bytes)
// - Version (4 bytes, little-endian)
// - Manifest length (4 bytes, little-endian) + manifest
// - Payload: every stream back to back
//
// The manifest is protobuf wire data: repeated field 1 holds one Stream
// message per (block, level) with block=1, level=2 (zigzag, -1 for
// metadata), offset=3 and length=4. Offsets are relative to the payload.

const (
	containerMagic   = "MDRC"
	containerVersion = 1
	containerHeader  = 4 + 4 + 4

	// maxManifestSize bounds manifest allocation on corrupt headers.
	maxManifestSize = 64 * 1024 * 1024
)

// StreamInfo locates one stream inside a container.
type StreamInfo struct {
	Block  int
	Level  int
	Offset int64
	Length int64
}

type streamKey struct {
	block int
	level int
}

// =============================================================================
// Writing
// =============================================================================

// ContainerWriter collects blocks and writes them as one container file on
// Close. Block writers may be used concurrently.
type ContainerWriter struct {
	path string

	mu     sync.Mutex
	blocks map[int]containerBlockData
	closed bool
}

type containerBlockData struct {
	meta    []byte
	streams [][]byte
}

// NewContainerWriter creates a writer for the container at path.
func NewContainerWriter(path string) *ContainerWriter {
	return &ContainerWriter{path: path, blocks: make(map[int]containerBlockData)}
}

// Block returns the Writer of block b.
func (w *ContainerWriter) Block(b int) Writer {
	return &containerBlockWriter{w: w, block: b}
}

type containerBlockWriter struct {
	w     *ContainerWriter
	block int
}

// Write implements Writer.
func (bw *containerBlockWriter) Write(ctx context.Context, md *metadata.Metadata, streams [][]byte) error {
	if err := checkStreams(md, streams); err != nil {
		return err
	}
	data, err := md.Marshal()
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	copied := make([][]byte, len(streams))
	for l, s := range streams {
		copied[l] = append([]byte(nil), s...)
	}

	bw.w.mu.Lock()
	defer bw.w.mu.Unlock()
	if bw.w.closed {
		return fmt.Errorf("container writer closed: %w", mdrerrors.ErrInvalidState)
	}
	bw.w.blocks[bw.block] = containerBlockData{meta: data, streams: copied}
	return nil
}

// Close writes the container. Streams are ordered by block, metadata first.
func (w *ContainerWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	blocks := make([]int, 0, len(w.blocks))
	for b := range w.blocks {
		blocks = append(blocks, b)
	}
	sort.Ints(blocks)

	var (
		infos   []StreamInfo
		payload [][]byte
		off     int64
	)
	add := func(block, level int, data []byte) {
		infos = append(infos, StreamInfo{Block: block, Level: level, Offset: off, Length: int64(len(data))})
		payload = append(payload, data)
		off += int64(len(data))
	}
	for _, b := range blocks {
		bd := w.blocks[b]
		add(b, MetadataLevel, bd.meta)
		for l, s := range bd.streams {
			add(b, l, s)
		}
	}

	manifest := marshalManifest(infos)
	buf := make([]byte, 0, containerHeader+len(manifest)+int(off))
	buf = append(buf, containerMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, containerVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(manifest)))
	buf = append(buf, manifest...)
	for _, p := range payload {
		buf = append(buf, p...)
	}

	if err := writeFileAtomic(w.path, buf); err != nil {
		return fmt.Errorf("write container: %w", err)
	}
	log.Debug("container written", "path", w.path, "blocks", len(blocks), "streams", len(infos), "bytes", len(buf))
	return nil
}

// =============================================================================
// Reading
// =============================================================================

// Container reads a container file. The manifest is loaded once, on first
// use, and shared by all block readers.
type Container struct {
	path  string
	group singleflight.Group

	mu         sync.RWMutex
	file       *os.File
	streams    map[streamKey]StreamInfo
	payloadOff int64
}

// OpenContainer returns a reader for the container at path. The file is
// opened lazily.
func OpenContainer(path string) *Container {
	return &Container{path: path}
}

// Block returns the Reader of block b.
func (c *Container) Block(b int) Reader {
	return &containerBlockReader{c: c, block: b}
}

// Streams lists the container's streams ordered by block, then level.
func (c *Container) Streams(ctx context.Context) ([]StreamInfo, error) {
	streams, err := c.manifest(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]StreamInfo, 0, len(streams))
	for _, s := range streams {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Block != out[j].Block {
			return out[i].Block < out[j].Block
		}
		return out[i].Level < out[j].Level
	})
	return out, nil
}

// Blocks returns the block indices present in the container.
func (c *Container) Blocks(ctx context.Context) ([]int, error) {
	streams, err := c.Streams(ctx)
	if err != nil {
		return nil, err
	}
	var blocks []int
	for _, s := range streams {
		if s.Level == MetadataLevel {
			blocks = append(blocks, s.Block)
		}
	}
	return blocks, nil
}

// Close closes the underlying file.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	c.streams = nil
	return err
}

func (c *Container) manifest(ctx context.Context) (map[streamKey]StreamInfo, error) {
	c.mu.RLock()
	streams := c.streams
	c.mu.RUnlock()
	if streams != nil {
		return streams, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Use singleflight so concurrent block sessions read the manifest once
	v, err, _ := c.group.Do("manifest", func() (interface{}, error) {
		c.mu.RLock()
		streams := c.streams
		c.mu.RUnlock()
		if streams != nil {
			return streams, nil
		}
		return c.loadManifest()
	})
	if err != nil {
		return nil, err
	}
	return v.(map[streamKey]StreamInfo), nil
}

// loadManifest is called via singleflight.
func (c *Container) loadManifest() (map[streamKey]StreamInfo, error) {
	f, err := os.Open(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("container %s: %w: %w", c.path, mdrerrors.ErrRetrievalIO, mdrerrors.ErrStreamMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("container %s: %w: %w", c.path, mdrerrors.ErrRetrievalIO, err)
	}

	var header [containerHeader]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		f.Close()
		return nil, mdrerrors.NewCorruption("container %s: read header: %v", c.path, err)
	}
	if string(header[0:4]) != containerMagic {
		f.Close()
		return nil, mdrerrors.NewCorruption("container %s: invalid magic %q", c.path, header[0:4])
	}
	if v := binary.LittleEndian.Uint32(header[4:8]); v != containerVersion {
		f.Close()
		return nil, mdrerrors.NewCorruption("container %s: unsupported version %d", c.path, v)
	}
	n := binary.LittleEndian.Uint32(header[8:12])
	if n > maxManifestSize {
		f.Close()
		return nil, mdrerrors.NewCorruption("container %s: manifest too large: %d bytes", c.path, n)
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(f, raw); err != nil {
		f.Close()
		return nil, mdrerrors.NewCorruption("container %s: read manifest: %v", c.path, err)
	}

	infos, err := unmarshalManifest(raw)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("container %s: %w", c.path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("container %s: %w: %w", c.path, mdrerrors.ErrRetrievalIO, err)
	}
	payloadOff := int64(containerHeader) + int64(n)
	payload := st.Size() - payloadOff

	streams := make(map[streamKey]StreamInfo, len(infos))
	for _, s := range infos {
		// Offset is bounded first so the Length check cannot overflow.
		if s.Offset < 0 || s.Length < 0 || s.Offset > payload || s.Length > payload-s.Offset {
			f.Close()
			return nil, mdrerrors.NewCorruption("container %s: stream block %d level %d at [%d, +%d) outside %d payload bytes",
				c.path, s.Block, s.Level, s.Offset, s.Length, payload)
		}
		key := streamKey{block: s.Block, level: s.Level}
		if _, dup := streams[key]; dup {
			f.Close()
			return nil, mdrerrors.NewCorruption("container %s: duplicate stream block %d level %d", c.path, s.Block, s.Level)
		}
		streams[key] = s
	}

	c.mu.Lock()
	c.file = f
	c.streams = streams
	c.payloadOff = payloadOff
	c.mu.Unlock()

	log.Debug("container manifest loaded", "path", c.path, "streams", len(streams))
	return streams, nil
}

// readStream reads length bytes at offset of a stream. Missing and short
// streams wrap ErrStreamMissing and ErrStreamTruncated.
func (c *Container) readStream(ctx context.Context, key streamKey, offset, length int64) ([]byte, error) {
	streams, err := c.manifest(ctx)
	if err != nil {
		return nil, err
	}
	info, ok := streams[key]
	if !ok {
		return nil, fmt.Errorf("block %d level %d: %w", key.block, key.level, mdrerrors.ErrStreamMissing)
	}
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("block %d level %d: range [%d, +%d): %w", key.block, key.level, offset, length, mdrerrors.ErrInvalidRange)
	}
	if offset > info.Length || length > info.Length-offset {
		return nil, fmt.Errorf("block %d level %d: range ends at %d of %d bytes: %w",
			key.block, key.level, offset+length, info.Length, mdrerrors.ErrStreamTruncated)
	}

	c.mu.RLock()
	f, base := c.file, c.payloadOff
	c.mu.RUnlock()
	if f == nil {
		return nil, fmt.Errorf("container closed: %w", mdrerrors.ErrInvalidState)
	}

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, base+info.Offset+offset)
	if int64(n) < length {
		if err == nil || errors.Is(err, io.EOF) {
			err = mdrerrors.ErrStreamTruncated
		}
		return nil, fmt.Errorf("block %d level %d: read %d of %d bytes: %w", key.block, key.level, n, length, err)
	}
	return buf, nil
}

type containerBlockReader struct {
	session

	c     *Container
	block int
}

// LoadMetadata implements Reader.
func (r *containerBlockReader) LoadMetadata(ctx context.Context) (*metadata.Metadata, error) {
	streams, err := r.c.manifest(ctx)
	if err != nil {
		return nil, err
	}
	key := streamKey{block: r.block, level: MetadataLevel}
	info, ok := streams[key]
	if !ok {
		return nil, fmt.Errorf("metadata of block %d: %w: %w", r.block, mdrerrors.ErrRetrievalIO, mdrerrors.ErrStreamMissing)
	}
	data, err := r.c.readStream(ctx, key, 0, info.Length)
	if err != nil {
		return nil, fmt.Errorf("metadata of block %d: %w: %w", r.block, mdrerrors.ErrRetrievalIO, err)
	}
	md, err := metadata.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", r.block, err)
	}
	r.set(md)
	return md, nil
}

// Fetch implements Reader.
func (r *containerBlockReader) Fetch(ctx context.Context, ranges []Range) ([]Result, error) {
	if err := r.check(ranges); err != nil {
		return nil, err
	}
	results := make([]Result, len(ranges))
	for i, rg := range ranges {
		results[i].Range = rg
		data, err := r.c.readStream(ctx, streamKey{block: r.block, level: rg.Level}, rg.Offset, rg.Length)
		if err != nil {
			results[i].Err = mdrerrors.NewRetrieval(rg.Level, err)
			continue
		}
		results[i].Data = data
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
