package loader

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/mo"

	"github.com/atlasmap-sc/ingest/internal/characteristics"
	"github.com/atlasmap-sc/ingest/internal/matcher"
	"github.com/atlasmap-sc/ingest/internal/singlecell"
)

// CellMetadataConfig selects the metadata files replacing the cell-level
// annotations of the wrapped loader.
type CellMetadataConfig struct {
	// CellTypeFile replaces CellTypeAssignments when set.
	CellTypeFile string
	// CellTypeName names the assignments read from CellTypeFile. With
	// several category ids it is used as a prefix.
	CellTypeName        string
	CellTypeDescription string
	CellTypeProtocol    string
	// CharacteristicsFile replaces OtherCellLevelCharacteristics when set.
	CharacteristicsFile string

	Matcher matcher.Matcher
	Index   characteristics.Options
}

// CellMetadata reads cell types and other characteristics from TSV files
// instead of the wrapped loader.
type CellMetadata struct {
	Delegating
	cfg CellMetadataConfig
}

// NewCellMetadata wraps inner.
func NewCellMetadata(inner Loader, cfg CellMetadataConfig) *CellMetadata {
	if cfg.Matcher == nil {
		cfg.Matcher = matcher.Default()
	}
	return &CellMetadata{Delegating: Delegating{Inner: inner}, cfg: cfg}
}

func (c *CellMetadata) CellTypeAssignments(dim *singlecell.CellDimension) ([]*singlecell.CellTypeAssignment, error) {
	if c.cfg.CellTypeFile == "" {
		return c.Inner.CellTypeAssignments(dim)
	}
	assignments, err := characteristics.IndexCellTypes(c.cfg.CellTypeFile, dim, c.cfg.Matcher, c.cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to read cell types from %s: %w", c.cfg.CellTypeFile, err)
	}
	for _, a := range assignments {
		switch {
		case c.cfg.CellTypeName == "":
		case len(assignments) == 1:
			a.Name = c.cfg.CellTypeName
		default:
			a.Name = c.cfg.CellTypeName + " " + a.Name
		}
		if a.Description == "" {
			a.Description = c.cfg.CellTypeDescription
		}
		a.Protocol = c.cfg.CellTypeProtocol
	}
	logger().Info("loaded cell type assignments from file", "path", c.cfg.CellTypeFile, "assignments", len(assignments))
	return assignments, nil
}

func (c *CellMetadata) OtherCellLevelCharacteristics(dim *singlecell.CellDimension) ([]*singlecell.CellLevelCharacteristics, error) {
	if c.cfg.CharacteristicsFile == "" {
		return c.Inner.OtherCellLevelCharacteristics(dim)
	}
	clcs, err := characteristics.IndexCharacteristics(c.cfg.CharacteristicsFile, dim, c.cfg.Matcher, c.cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to read cell-level characteristics from %s: %w", c.cfg.CharacteristicsFile, err)
	}
	return clcs, nil
}

// SequencingConfig configures the sequencing metadata decorator.
type SequencingConfig struct {
	// File is a TSV with columns sample_id and optionally read_length,
	// read_count and is_paired.
	File string
	// Defaults fill the fields missing for every sample.
	Defaults               singlecell.SequencingMetadata
	Matcher                matcher.Matcher
	IgnoreUnmatchedSamples bool
}

// Sequencing adds sequencing metadata from a file and defaults to the
// metadata reported by the wrapped loader.
type Sequencing struct {
	Delegating
	cfg SequencingConfig
}

// NewSequencing wraps inner.
func NewSequencing(inner Loader, cfg SequencingConfig) *Sequencing {
	if cfg.Matcher == nil {
		cfg.Matcher = matcher.Default()
	}
	return &Sequencing{Delegating: Delegating{Inner: inner}, cfg: cfg}
}

func (s *Sequencing) SequencingMetadata(dim *singlecell.CellDimension) (map[string]singlecell.SequencingMetadata, error) {
	inner, err := s.Inner.SequencingMetadata(dim)
	if err != nil {
		return nil, err
	}
	fromFile := map[string]singlecell.SequencingMetadata{}
	if s.cfg.File != "" {
		if fromFile, err = s.readFile(dim); err != nil {
			return nil, err
		}
	}
	out := make(map[string]singlecell.SequencingMetadata, len(dim.Samples))
	for _, sample := range dim.Samples {
		m := fromFile[sample.ID].Merge(inner[sample.ID]).Merge(s.cfg.Defaults)
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("invalid sequencing metadata for %s: %w", sample, err)
		}
		out[sample.ID] = m
	}
	return out, nil
}

func (s *Sequencing) readFile(dim *singlecell.CellDimension) (map[string]singlecell.SequencingMetadata, error) {
	out := make(map[string]singlecell.SequencingMetadata)
	err := characteristics.ReadTable(s.cfg.File, []string{"sample_id"}, func(_ int, row map[string]string) error {
		sample, err := matcher.Resolve(s.cfg.Matcher, dim.Samples, row["sample_id"])
		if err != nil {
			if errors.Is(err, matcher.ErrUnmatched) && s.cfg.IgnoreUnmatchedSamples {
				logger().Warn("ignoring sequencing metadata of unmatched sample", "sample", row["sample_id"])
				return nil
			}
			return err
		}
		if _, dup := out[sample.ID]; dup {
			return fmt.Errorf("sample %s has more than one sequencing metadata row", sample)
		}
		var m singlecell.SequencingMetadata
		if m.ReadLength, err = parseInt(row["read_length"]); err != nil {
			return fmt.Errorf("read_length: %w", err)
		}
		if m.ReadCount, err = parseInt(row["read_count"]); err != nil {
			return fmt.Errorf("read_count: %w", err)
		}
		if m.IsPaired, err = parseBool(row["is_paired"]); err != nil {
			return fmt.Errorf("is_paired: %w", err)
		}
		out[sample.ID] = m
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read sequencing metadata: %w", err)
	}
	return out, nil
}

func parseInt(s string) (mo.Option[int64], error) {
	if s == "" {
		return mo.None[int64](), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return mo.None[int64](), err
	}
	return mo.Some(n), nil
}

func parseBool(s string) (mo.Option[bool], error) {
	switch strings.ToLower(s) {
	case "":
		return mo.None[bool](), nil
	case "true", "yes", "1":
		return mo.Some(true), nil
	case "false", "no", "0":
		return mo.Some(false), nil
	}
	return mo.None[bool](), fmt.Errorf("invalid boolean %q", s)
}
