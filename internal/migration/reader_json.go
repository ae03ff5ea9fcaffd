package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"handoverphotos/internal/services"
)

// JSONReader reads legacy records from a JSON dump: an array of records.
// The file is read on every call so a replaced dump is picked up without a
// restart.
type JSONReader struct {
	path string
}

// NewJSONReader reads the dump at path.
func NewJSONReader(path string) *JSONReader {
	return &JSONReader{path: path}
}

func (r *JSONReader) load() ([]LegacyRecord, error) {
	if r.path == "" {
		return nil, services.Wrap(services.ErrConfiguration, "migration", "json reader",
			"migration.legacy_json_path is not set", nil)
	}
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, services.Wrap(services.ErrConfiguration, "migration", "json reader",
			fmt.Sprintf("legacy dump %s does not exist", r.path), nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "migration", "json reader", "read legacy dump", err)
	}
	var records []LegacyRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, services.Wrap(services.ErrValidation, "migration", "json reader",
			fmt.Sprintf("parse legacy dump %s", r.path), err)
	}
	return records, nil
}

// List returns the records matching filter.
func (r *JSONReader) List(_ context.Context, filter Filter) ([]LegacyRecord, error) {
	records, err := r.load()
	if err != nil {
		return nil, err
	}
	out := records[:0]
	for _, record := range records {
		if filter.matches(record) {
			out = append(out, record)
		}
	}
	sortRecords(out)
	return out, nil
}

// Get returns one record by id.
func (r *JSONReader) Get(_ context.Context, id string) (*LegacyRecord, error) {
	records, err := r.load()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID == id {
			return &records[i], nil
		}
	}
	return nil, nil
}

// Close is a no-op.
func (r *JSONReader) Close() {}
