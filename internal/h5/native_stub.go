//go:build !hdf5

package h5

import "fmt"

// Native reports whether the libhdf5 backend is compiled in.
const Native = false

// OpenFile opens an HDF5 file with the native backend. This build has none.
func OpenFile(path string) (File, error) {
	return nil, fmt.Errorf("open %s: %w", path, ErrUnsupported)
}
