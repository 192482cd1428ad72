package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/mdr/config"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/logging"
	"github.com/xtxerr/mdr/internal/metadata"
)

var log = logging.Component("storage")

// SingleBlock selects the unsuffixed file names of a one-block dataset.
const SingleBlock = -1

// Dir stores a block as files in a directory:
// metadata.bin and level_<l>.bin, or metadata_<b>.bin and level_<l>_<b>.bin
// for block b of a multi-block dataset.
type Dir struct {
	session

	root    string
	block   int
	workers int
}

// NewDir returns a single-block directory gateway.
func NewDir(root string) *Dir {
	return NewBlockDir(root, SingleBlock)
}

// NewBlockDir returns the gateway for block b of a multi-block dataset.
func NewBlockDir(root string, block int) *Dir {
	return &Dir{root: root, block: block, workers: config.DefaultRefactorWorkers}
}

// SetWorkers bounds concurrent reads of one Fetch.
func (d *Dir) SetWorkers(n int) {
	if n > 0 {
		d.workers = n
	}
}

// MetadataPath returns the metadata file path.
func (d *Dir) MetadataPath() string {
	if d.block == SingleBlock {
		return filepath.Join(d.root, config.MetadataFile)
	}
	return filepath.Join(d.root, fmt.Sprintf("metadata_%d.bin", d.block))
}

// LevelPath returns the stream file path of a level.
func (d *Dir) LevelPath(level int) string {
	if d.block == SingleBlock {
		return filepath.Join(d.root, fmt.Sprintf("level_%d.bin", level))
	}
	return filepath.Join(d.root, fmt.Sprintf("level_%d_%d.bin", level, d.block))
}

// Write implements Writer. Level streams are written first so a metadata
// file only appears once its streams are complete.
func (d *Dir) Write(ctx context.Context, md *metadata.Metadata, streams [][]byte) error {
	if err := checkStreams(md, streams); err != nil {
		return err
	}
	data, err := md.Marshal()
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.MkdirAll(d.root, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	for l, s := range streams {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeFileAtomic(d.LevelPath(l), s); err != nil {
			return fmt.Errorf("write level %d: %w", l, err)
		}
	}
	if err := writeFileAtomic(d.MetadataPath(), data); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	log.Debug("block written",
		"path", d.root,
		"block", d.block,
		"levels", len(streams),
		"bytes", md.TotalBytes()+int64(len(data)))
	return nil
}

// LoadMetadata implements Reader.
func (d *Dir) LoadMetadata(ctx context.Context) (*metadata.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(d.MetadataPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read metadata %s: %w: %w", d.MetadataPath(), mdrerrors.ErrRetrievalIO, mdrerrors.ErrStreamMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata %s: %w: %w", d.MetadataPath(), mdrerrors.ErrRetrievalIO, err)
	}

	md, err := metadata.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.MetadataPath(), err)
	}
	d.set(md)
	return md, nil
}

// Fetch implements Reader.
func (d *Dir) Fetch(ctx context.Context, ranges []Range) ([]Result, error) {
	if err := d.check(ranges); err != nil {
		return nil, err
	}

	results := make([]Result, len(ranges))
	var g errgroup.Group
	g.SetLimit(d.workers)
	for i, r := range ranges {
		g.Go(func() error {
			results[i] = d.read(ctx, r)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (d *Dir) read(ctx context.Context, r Range) Result {
	res := Result{Range: r}
	if err := ctx.Err(); err != nil {
		res.Err = mdrerrors.NewRetrieval(r.Level, err)
		return res
	}

	path := d.LevelPath(r.Level)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		res.Err = mdrerrors.NewRetrieval(r.Level, fmt.Errorf("%s: %w", path, mdrerrors.ErrStreamMissing))
		return res
	}
	if err != nil {
		res.Err = mdrerrors.NewRetrieval(r.Level, err)
		return res
	}
	defer f.Close()

	buf := make([]byte, r.Length)
	n, err := f.ReadAt(buf, r.Offset)
	if int64(n) < r.Length {
		if err == nil || errors.Is(err, io.EOF) {
			err = mdrerrors.ErrStreamTruncated
		}
		res.Err = mdrerrors.NewRetrieval(r.Level, fmt.Errorf("%s: read %d of %d bytes: %w", path, n, r.Length, err))
		return res
	}
	res.Data = buf
	return res
}

// writeFileAtomic writes to a temp file, then renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath) // Clean up temp file
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
