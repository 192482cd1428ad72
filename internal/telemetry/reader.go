package telemetry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/parquet-go/parquet-go"
)

// Reader reads rows of type R from a Parquet file.
type Reader[R Row] struct {
	file   *os.File
	reader *parquet.GenericReader[R]
	path   string
}

// NewReader opens the file at path.
func NewReader[R Row](path string) (*Reader[R], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &Reader[R]{
		file:   f,
		reader: parquet.NewGenericReader[R](f, parquet.ReadBufferSize(1024*1024)),
		path:   path,
	}, nil
}

// ReadAll reads every row of the file.
func (r *Reader[R]) ReadAll() ([]R, error) {
	rows := make([]R, r.reader.NumRows())
	n, err := r.reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return rows[:n], nil
}

// NumRows returns the total number of rows in the file.
func (r *Reader[R]) NumRows() int64 {
	return r.reader.NumRows()
}

// Path returns the file path.
func (r *Reader[R]) Path() string {
	return r.path
}

// Close closes the reader.
func (r *Reader[R]) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// ReadDir reads every file of one kind in dir, in file name order.
func ReadDir[R Row](dir, prefix string) ([]R, error) {
	paths, err := filepath.Glob(filepath.Join(dir, prefix+"_*.parquet"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var out []R
	for _, p := range paths {
		r, err := NewReader[R](p)
		if err != nil {
			return nil, err
		}
		rows, err := r.ReadAll()
		r.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		out = append(out, rows...)
	}
	return out, nil
}
