package matcher

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/shenwei356/xopen"

	"github.com/atlasmap-sc/ingest/internal/singlecell"
)

// Renaming rewrites raw names through a table before delegating. Names
// absent from the table are passed through unchanged.
type Renaming struct {
	Inner Matcher
	Names map[string]string
}

func (r *Renaming) Match(candidates []*singlecell.Sample, name string) []*singlecell.Sample {
	if renamed, ok := r.Names[name]; ok {
		name = renamed
	}
	return r.Inner.Match(candidates, name)
}

// ParseRenamingFile reads a two-column, tab-separated file mapping sample
// names used in data files to sample identifiers. The file may be gzipped.
// Blank lines and lines starting with '#' are skipped.
func ParseRenamingFile(path string, inner Matcher) (*Renaming, error) {
	fh, err := xopen.Ropen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open renaming file %s: %w", path, err)
	}
	defer fh.Close()

	names := make(map[string]string)
	scanner := bufio.NewScanner(fh)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s:%d: expected 2 columns, got %d", path, line, len(fields))
		}
		from, to := strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1])
		if prev, ok := names[from]; ok && prev != to {
			return nil, fmt.Errorf("%s:%d: %q is renamed to both %q and %q", path, line, from, prev, to)
		}
		names[from] = to
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read renaming file %s: %w", path, err)
	}
	return &Renaming{Inner: inner, Names: names}, nil
}
