package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/field"
)

// readRaw reads a little-endian row-major array of the given dims.
func readRaw[T field.Float](path string, dims []int) (*field.Field[T], error) {
	f, err := field.New[T](dims...)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat input: %w", err)
	}
	want := int64(f.Len()) * int64(field.KindOf[T]())
	if stat.Size() != want {
		return nil, fmt.Errorf("%s holds %d bytes, dims %v of %s need %d: %w",
			path, stat.Size(), dims, field.KindOf[T](), want, mdrerrors.ErrShapeMismatch)
	}

	if err := binary.Read(bufio.NewReaderSize(file, 1<<20), binary.LittleEndian, f.Data()); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return f, nil
}

// writeRaw writes f as a little-endian row-major array.
func writeRaw[T field.Float](path string, f *field.Field[T]) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	w := bufio.NewWriterSize(file, 1<<20)
	if err := binary.Write(w, binary.LittleEndian, f.Data()); err != nil {
		file.Close()
		return fmt.Errorf("write output: %w", err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("write output: %w", err)
	}
	return file.Close()
}

// parseDims parses "64,64,32" or "64x64x32".
func parseDims(s string) ([]int, error) {
	s = strings.ReplaceAll(s, "x", ",")
	var dims []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := strconv.Atoi(p)
		if err != nil {
			return nil, mdrerrors.NewConfiguration("dims", fmt.Sprintf("bad dimension %q", p))
		}
		dims = append(dims, d)
	}
	if _, err := field.Count(dims); err != nil {
		return nil, err
	}
	return dims, nil
}

// parseTolerances parses a comma separated list of non-negative tolerances.
func parseTolerances(s string) ([]float64, error) {
	var out []float64
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("tolerance %q: %w", p, mdrerrors.ErrInvalidTolerance)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no tolerance given: %w", mdrerrors.ErrInvalidTolerance)
	}
	return out, nil
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
