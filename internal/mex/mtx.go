// Package mex loads 10x-style MEX directories: per-sample barcode, feature
// and Matrix Market files concatenated into one cell dimension.
package mex

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shenwei356/xopen"

	"github.com/atlasmap-sc/ingest/internal/sparse"
)

const banner = "%%MatrixMarket"

// Field is the value type declared in a Matrix Market banner.
type Field string

const (
	FieldInteger Field = "integer"
	FieldReal    Field = "real"
	FieldDouble  Field = "double"
	FieldPattern Field = "pattern"
)

// Header is the banner, comments and size line of a Matrix Market file.
type Header struct {
	// HasInfo is false when the banner line is missing.
	HasInfo  bool
	Object   string
	Format   string
	Field    Field
	Symmetry string
	Comments []string
	Rows     int
	Cols     int
	Entries  int
}

// IsInteger reports whether the file declares integer values.
func (h *Header) IsInteger() bool {
	return h.HasInfo && h.Field == FieldInteger
}

type mtxReader struct {
	path    string
	scanner *bufio.Scanner
	line    int
}

func newMtxReader(path string, r io.Reader) *mtxReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &mtxReader{path: path, scanner: s}
}

func (r *mtxReader) next() (string, bool) {
	if !r.scanner.Scan() {
		return "", false
	}
	r.line++
	return strings.TrimRight(r.scanner.Text(), "\r"), true
}

func (r *mtxReader) errorf(format string, args ...any) error {
	return fmt.Errorf("%s:%d: %s", r.path, r.line, fmt.Sprintf(format, args...))
}

func (r *mtxReader) readHeader() (*Header, error) {
	h := &Header{}
	for {
		text, ok := r.next()
		if !ok {
			if err := r.scanner.Err(); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", r.path, err)
			}
			return nil, fmt.Errorf("%s: missing size line", r.path)
		}
		if r.line == 1 && strings.HasPrefix(text, banner) {
			fields := strings.Fields(strings.ToLower(text[len(banner):]))
			if len(fields) != 4 {
				return nil, r.errorf("malformed banner %q", text)
			}
			h.HasInfo = true
			h.Object, h.Format, h.Field, h.Symmetry = fields[0], fields[1], Field(fields[2]), fields[3]
			if h.Object != "matrix" || h.Format != "coordinate" {
				return nil, r.errorf("only coordinate matrices are supported, got %s %s", h.Object, h.Format)
			}
			switch h.Field {
			case FieldInteger, FieldReal, FieldDouble, FieldPattern:
			default:
				return nil, r.errorf("unsupported field %s", h.Field)
			}
			if h.Symmetry != "general" {
				return nil, r.errorf("unsupported symmetry %s", h.Symmetry)
			}
			continue
		}
		if strings.HasPrefix(text, "%") {
			h.Comments = append(h.Comments, strings.TrimSpace(strings.TrimLeft(text, "%")))
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 3 {
			return nil, r.errorf("malformed size line %q", text)
		}
		var dims [3]int
		for i, f := range fields {
			n, err := strconv.Atoi(f)
			if err != nil || n < 0 {
				return nil, r.errorf("malformed size line %q", text)
			}
			dims[i] = n
		}
		h.Rows, h.Cols, h.Entries = dims[0], dims[1], dims[2]
		return h, nil
	}
}

// readEntries reads the coordinate entries, converting them to 0-based
// indices.
func (r *mtxReader) readEntries(h *Header) (rows, cols []int, vals []float64, err error) {
	rows = make([]int, 0, h.Entries)
	cols = make([]int, 0, h.Entries)
	vals = make([]float64, 0, h.Entries)
	for len(rows) < h.Entries {
		text, ok := r.next()
		if !ok {
			if err := r.scanner.Err(); err != nil {
				return nil, nil, nil, fmt.Errorf("failed to read %s: %w", r.path, err)
			}
			return nil, nil, nil, fmt.Errorf("%s: expected %d entries, found %d", r.path, h.Entries, len(rows))
		}
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "%") {
			continue
		}
		fields := strings.Fields(text)
		want := 3
		if h.Field == FieldPattern {
			want = 2
		}
		if len(fields) < want {
			return nil, nil, nil, r.errorf("expected %d fields, got %d", want, len(fields))
		}
		i, err1 := strconv.Atoi(fields[0])
		j, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			return nil, nil, nil, r.errorf("malformed coordinates %q", text)
		}
		if i < 1 || i > h.Rows || j < 1 || j > h.Cols {
			return nil, nil, nil, r.errorf("entry (%d, %d) outside %dx%d", i, j, h.Rows, h.Cols)
		}
		v := 1.0
		if h.Field != FieldPattern {
			if v, err = strconv.ParseFloat(fields[2], 64); err != nil {
				return nil, nil, nil, r.errorf("malformed value %q", fields[2])
			}
		}
		rows = append(rows, i-1)
		cols = append(cols, j-1)
		vals = append(vals, v)
	}
	return rows, cols, vals, nil
}

// ReadHeader reads the header of the Matrix Market file at path, which may
// be gzipped.
func ReadHeader(path string) (*Header, error) {
	fh, err := xopen.Ropen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer fh.Close()
	return newMtxReader(path, fh).readHeader()
}

// ReadMatrix reads the Matrix Market file at path into a CSR matrix with
// sorted rows.
func ReadMatrix(path string) (*sparse.CSR, *Header, error) {
	fh, err := xopen.Ropen(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer fh.Close()
	r := newMtxReader(path, fh)
	h, err := r.readHeader()
	if err != nil {
		return nil, nil, err
	}
	rows, cols, vals, err := r.readEntries(h)
	if err != nil {
		return nil, nil, err
	}
	m, err := sparse.FromTriplets(h.Rows, h.Cols, rows, cols, vals)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, h, nil
}

// NonEmptyColumns returns the sorted 0-based columns of the file at path
// holding at least one entry.
func NonEmptyColumns(path string) ([]int, error) {
	m, _, err := ReadMatrix(path)
	if err != nil {
		return nil, err
	}
	return m.NonEmptyColumns(), nil
}
