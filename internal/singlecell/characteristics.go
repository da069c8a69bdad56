package singlecell

import (
	"fmt"
	"strings"
)

// UnknownCode marks a cell without an assigned characteristic.
const UnknownCode = -1

// Characteristic is a categorical annotation. Two characteristics are the
// same when all four fields are equal.
type Characteristic struct {
	Category    string `json:"category"`
	CategoryURI string `json:"category_uri,omitempty"`
	Value       string `json:"value"`
	ValueURI    string `json:"value_uri,omitempty"`
}

func (c Characteristic) String() string {
	if c.ValueURI != "" {
		return fmt.Sprintf("%s: %s [%s]", c.Category, c.Value, c.ValueURI)
	}
	return c.Category + ": " + c.Value
}

// CellLevelCharacteristics assigns each cell of a dimension at most one
// characteristic of a category. Indices[i] is a position in Characteristics
// or UnknownCode.
type CellLevelCharacteristics struct {
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	Characteristics []Characteristic `json:"characteristics"`
	Indices         []int            `json:"indices"`
}

// NumCells returns the number of cells covered.
func (c *CellLevelCharacteristics) NumCells() int {
	return len(c.Indices)
}

// Characteristic returns the characteristic of cell i, if assigned.
func (c *CellLevelCharacteristics) Characteristic(i int) (Characteristic, bool) {
	code := c.Indices[i]
	if code == UnknownCode {
		return Characteristic{}, false
	}
	return c.Characteristics[code], true
}

// NumAssigned returns the number of cells with a known characteristic.
func (c *CellLevelCharacteristics) NumAssigned() int {
	n := 0
	for _, code := range c.Indices {
		if code != UnknownCode {
			n++
		}
	}
	return n
}

// Validate checks that every non-sentinel code indexes Characteristics and
// that characteristics are distinct.
func (c *CellLevelCharacteristics) Validate(numCells int) error {
	if len(c.Indices) != numCells {
		return fmt.Errorf("%s: %d indices for %d cells", c.Name, len(c.Indices), numCells)
	}
	seen := make(map[Characteristic]bool, len(c.Characteristics))
	for _, ch := range c.Characteristics {
		if seen[ch] {
			return fmt.Errorf("%s: duplicate characteristic %s", c.Name, ch)
		}
		seen[ch] = true
	}
	for i, code := range c.Indices {
		if code != UnknownCode && (code < 0 || code >= len(c.Characteristics)) {
			return fmt.Errorf("%s: cell %d has invalid code %d", c.Name, i, code)
		}
	}
	return nil
}

// CellTypeAssignment is a cell-level characteristic set whose category is
// the cell type.
type CellTypeAssignment struct {
	CellLevelCharacteristics
	Protocol  string `json:"protocol,omitempty"`
	Preferred bool   `json:"preferred,omitempty"`
}

// CellTypes returns the cell type labels in code order.
func (a *CellTypeAssignment) CellTypes() []string {
	out := make([]string, len(a.Characteristics))
	for i, c := range a.Characteristics {
		out[i] = c.Value
	}
	return out
}

// SelectPreferred marks the assignment named name as preferred, or the only
// assignment when name is empty.
func SelectPreferred(assignments []*CellTypeAssignment, name string) (*CellTypeAssignment, error) {
	if name == "" {
		switch len(assignments) {
		case 0:
			return nil, fmt.Errorf("no cell type assignment")
		case 1:
			assignments[0].Preferred = true
			return assignments[0], nil
		default:
			return nil, fmt.Errorf("more than one cell type assignment, a name is required")
		}
	}
	var found *CellTypeAssignment
	names := make([]string, 0, len(assignments))
	for _, a := range assignments {
		names = append(names, a.Name)
		if a.Name == name {
			if found != nil {
				return nil, fmt.Errorf("more than one cell type assignment with name %s", name)
			}
			found = a
		}
	}
	if found == nil {
		return nil, fmt.Errorf("no cell type assignment with name %s, possible values are: %s", name, strings.Join(names, ", "))
	}
	found.Preferred = true
	return found, nil
}
