package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	defaults "github.com/xtxerr/mdr/config"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/storage/config"
)

var blockMetadataPattern = regexp.MustCompile(`^metadata_(\d+)\.bin$`)

// Dataset is a stored field: one or more blocks in a data directory, either
// as level files or in a single container.
type Dataset struct {
	root      string
	blocks    int
	container bool
	workers   int

	writer *ContainerWriter
	reader *Container
}

// Create prepares a dataset for writing according to cfg.Layout.
func Create(cfg *config.Config) (*Dataset, error) {
	if err := cfg.Layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layout: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	d := &Dataset{
		root:      cfg.DataDir,
		blocks:    cfg.Layout.Blocks,
		container: cfg.Layout.Container,
		workers:   cfg.Retrieval.Workers,
	}
	if d.container {
		d.writer = NewContainerWriter(d.containerPath())
	}
	return d, nil
}

// Open opens an existing dataset, detecting its layout and block count.
func Open(ctx context.Context, cfg *config.Config) (*Dataset, error) {
	d := &Dataset{root: cfg.DataDir, workers: cfg.Retrieval.Workers}

	if _, err := os.Stat(d.containerPath()); err == nil {
		d.container = true
		d.reader = OpenContainer(d.containerPath())
		blocks, err := d.reader.Blocks(ctx)
		if err != nil {
			d.reader.Close()
			return nil, err
		}
		if err := contiguous(blocks); err != nil {
			d.reader.Close()
			return nil, err
		}
		d.blocks = len(blocks)
		return d, nil
	}

	if _, err := os.Stat(filepath.Join(d.root, defaults.MetadataFile)); err == nil {
		d.blocks = 1
		return d, nil
	}

	entries, err := os.ReadDir(d.root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	var blocks []int
	for _, e := range entries {
		m := blockMetadataPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		b, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		blocks = append(blocks, b)
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no dataset in %s: %w: %w", d.root, mdrerrors.ErrRetrievalIO, mdrerrors.ErrStreamMissing)
	}
	sort.Ints(blocks)
	if err := contiguous(blocks); err != nil {
		return nil, err
	}
	d.blocks = len(blocks)
	return d, nil
}

func contiguous(blocks []int) error {
	for i, b := range blocks {
		if b != i {
			return mdrerrors.NewCorruption("block %d missing from dataset", i)
		}
	}
	return nil
}

// Root returns the data directory.
func (d *Dataset) Root() string { return d.root }

// Blocks returns the number of blocks.
func (d *Dataset) Blocks() int { return d.blocks }

// IsContainer reports whether the dataset uses a container file.
func (d *Dataset) IsContainer() bool { return d.container }

// Container returns the container reader, or nil for a directory dataset.
func (d *Dataset) Container() *Container { return d.reader }

func (d *Dataset) containerPath() string {
	return filepath.Join(d.root, defaults.ContainerFile)
}

// Writer returns the Writer of block b.
func (d *Dataset) Writer(b int) Writer {
	if d.container {
		return d.writer.Block(b)
	}
	return d.dir(b)
}

// Reader returns a new Reader of block b. Each reconstruction session
// needs its own Reader.
func (d *Dataset) Reader(b int) Reader {
	if d.container {
		return d.reader.Block(b)
	}
	return d.dir(b)
}

func (d *Dataset) dir(b int) *Dir {
	var g *Dir
	if d.blocks == 1 {
		g = NewDir(d.root)
	} else {
		g = NewBlockDir(d.root, b)
	}
	g.SetWorkers(d.workers)
	return g
}

// Close flushes a container being written and releases open files.
func (d *Dataset) Close() error {
	var errs []error
	if d.writer != nil {
		if err := d.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close container writer: %w", err))
		}
	}
	if d.reader != nil {
		if err := d.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close container: %w", err))
		}
	}
	return errors.Join(errs...)
}
