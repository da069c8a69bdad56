package singlecell

import (
	"fmt"
	"strings"
)

// Type is the general kind of a quantitation.
type Type string

const (
	TypeCount  Type = "COUNT"
	TypeAmount Type = "AMOUNT"
)

// ParseType parses a type name, case-insensitively.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToUpper(s)); t {
	case TypeCount, TypeAmount:
		return t, nil
	}
	return "", fmt.Errorf("unknown quantitation type %q", s)
}

// Scale is the scale of the stored values.
type Scale string

const (
	ScaleCount Scale = "COUNT"
	ScaleOther Scale = "OTHER"
	// ScaleUnknown flags a scale that could not be determined from storage.
	ScaleUnknown Scale = "UNKNOWN"
)

// ParseScale parses a scale name, case-insensitively.
func ParseScale(s string) (Scale, error) {
	switch sc := Scale(strings.ToUpper(s)); sc {
	case ScaleCount, ScaleOther, ScaleUnknown:
		return sc, nil
	}
	return "", fmt.Errorf("unknown scale %q", s)
}

// Representation is the primitive numeric type values are persisted as.
type Representation string

const (
	RepresentationInt    Representation = "INT"
	RepresentationLong   Representation = "LONG"
	RepresentationFloat  Representation = "FLOAT"
	RepresentationDouble Representation = "DOUBLE"
)

// SinglePrecision returns the 32-bit counterpart of r.
func (r Representation) SinglePrecision() Representation {
	switch r {
	case RepresentationLong:
		return RepresentationInt
	case RepresentationDouble:
		return RepresentationFloat
	}
	return r
}

// QuantitationType is a named numeric payload available in a data source.
// Location is the loader-specific path the values are read from.
type QuantitationType struct {
	Name                  string         `json:"name"`
	Description           string         `json:"description,omitempty"`
	Type                  Type           `json:"type"`
	Scale                 Scale          `json:"scale"`
	Representation        Representation `json:"representation"`
	Location              string         `json:"location,omitempty"`
	Preferred             bool           `json:"preferred,omitempty"`
	RecomputedFromRawData bool           `json:"recomputed_from_raw_data,omitempty"`
}

func (q QuantitationType) String() string {
	return fmt.Sprintf("%s [%s/%s/%s]", q.Name, q.Type, q.Scale, q.Representation)
}

// SelectQuantitationType picks the single quantitation type named name (any
// when name is empty). Zero or several candidates are errors listing choices.
func SelectQuantitationType(qts []QuantitationType, name string) (QuantitationType, error) {
	var candidates []QuantitationType
	for _, q := range qts {
		if name == "" || q.Name == name {
			candidates = append(candidates, q)
		}
	}
	suffix := ""
	if name != "" {
		suffix = " with name " + name
	}
	choices := make([]string, len(qts))
	for i, q := range qts {
		choices[i] = q.String()
	}
	switch len(candidates) {
	case 0:
		return QuantitationType{}, fmt.Errorf("no quantitation type available%s, choose one among:\n\t%s", suffix, strings.Join(choices, "\n\t"))
	case 1:
		return candidates[0], nil
	default:
		return QuantitationType{}, fmt.Errorf("more than one quantitation type available%s, choose one among:\n\t%s", suffix, strings.Join(choices, "\n\t"))
	}
}
