// Package matcher resolves raw sample names found in data files to the
// candidate samples of a dataset.
package matcher

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/atlasmap-sc/ingest/internal/singlecell"
)

var (
	// ErrUnmatched is returned by Resolve when no candidate matches.
	ErrUnmatched = errors.New("no matching sample")
	// ErrAmbiguous is returned by Resolve when several candidates match.
	ErrAmbiguous = errors.New("ambiguous sample name")
)

// Matcher maps a raw sample name to the candidates it designates. An empty
// result means no match; more than one means the name is ambiguous.
type Matcher interface {
	Match(candidates []*singlecell.Sample, name string) []*singlecell.Sample
}

// Func adapts a function to Matcher.
type Func func(candidates []*singlecell.Sample, name string) []*singlecell.Sample

func (f Func) Match(candidates []*singlecell.Sample, name string) []*singlecell.Sample {
	return f(candidates, name)
}

// Resolve returns the single sample name designates.
func Resolve(m Matcher, candidates []*singlecell.Sample, name string) (*singlecell.Sample, error) {
	found := m.Match(candidates, name)
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w for %q", ErrUnmatched, name)
	case 1:
		return found[0], nil
	default:
		ids := make([]string, len(found))
		for i, s := range found {
			ids[i] = s.String()
		}
		return nil, fmt.Errorf("%w: %q matches %s", ErrAmbiguous, name, strings.Join(ids, ", "))
	}
}

// Exact matches case-sensitively against a sample's id, name, accession and
// aliases.
type Exact struct{}

func (Exact) Match(candidates []*singlecell.Sample, name string) []*singlecell.Sample {
	return matchBy(candidates, name, func(s string) string { return s })
}

// Normalized matches ignoring case and collapsing runs of whitespace.
type Normalized struct{}

func (Normalized) Match(candidates []*singlecell.Sample, name string) []*singlecell.Sample {
	return matchBy(candidates, name, normalize)
}

func matchBy(candidates []*singlecell.Sample, name string, key func(string) string) []*singlecell.Sample {
	want := key(name)
	var out []*singlecell.Sample
	for _, s := range candidates {
		for _, id := range s.Identifiers() {
			if id != "" && key(id) == want {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " "))
}

// Chain tries each matcher in turn and returns the first non-empty result.
type Chain []Matcher

func (c Chain) Match(candidates []*singlecell.Sample, name string) []*singlecell.Sample {
	for _, m := range c {
		if found := m.Match(candidates, name); len(found) > 0 {
			return found
		}
	}
	return nil
}

// Default matches exactly first, then ignoring case and spacing.
func Default() Matcher {
	return Chain{Exact{}, Normalized{}}
}
