package api

import (
	"github.com/atlasmap-sc/ingest/internal/service"
)

// DatasetInfo contains information about a dataset for the API response.
type DatasetInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	DataType    string `json:"data_type,omitempty"`
	DataPath    string `json:"data_path"`
	Samples     int    `json:"samples"`
}

// DatasetRegistry holds the configured datasets.
type DatasetRegistry struct {
	datasets     map[string]*service.Dataset
	datasetOrder []string
}

// NewDatasetRegistry creates a new dataset registry.
func NewDatasetRegistry() *DatasetRegistry {
	return &DatasetRegistry{
		datasets: make(map[string]*service.Dataset),
	}
}

// Register adds a dataset. Registering an id again replaces the dataset.
func (r *DatasetRegistry) Register(ds *service.Dataset) {
	if _, ok := r.datasets[ds.ID]; !ok {
		r.datasetOrder = append(r.datasetOrder, ds.ID)
	}
	r.datasets[ds.ID] = ds
}

// Get returns a dataset, or nil if not found.
func (r *DatasetRegistry) Get(datasetID string) *service.Dataset {
	return r.datasets[datasetID]
}

// DatasetIDs returns all dataset IDs in config order.
func (r *DatasetRegistry) DatasetIDs() []string {
	return r.datasetOrder
}

// Datasets returns dataset info for all registered datasets.
func (r *DatasetRegistry) Datasets() []DatasetInfo {
	infos := make([]DatasetInfo, 0, len(r.datasetOrder))
	for _, id := range r.datasetOrder {
		ds := r.datasets[id]
		name := ds.Name
		if name == "" {
			name = id
		}
		infos = append(infos, DatasetInfo{
			ID:          id,
			Name:        name,
			Description: ds.Description,
			DataType:    string(ds.Options.DataType),
			DataPath:    ds.Options.DataPath,
			Samples:     len(ds.Samples),
		})
	}
	return infos
}
