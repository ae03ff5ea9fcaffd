package integrity

import (
	"encoding/json"
	"fmt"
	"time"
)

type manifestJSON struct {
	Files     []FileEntry `json:"files"`
	TotalSize int64       `json:"totalSize"`
	Timestamp time.Time   `json:"timestamp"`
	Version   string      `json:"version"`
}

func (m Manifest) MarshalJSON() ([]byte, error) {
	files := m.files
	if files == nil {
		files = []FileEntry{}
	}
	return json.Marshal(manifestJSON{
		Files:     files,
		TotalSize: m.totalSize,
		Timestamp: m.timestamp,
		Version:   m.version,
	})
}

// UnmarshalJSON decodes a stored manifest and rejects payloads whose total
// does not match their files.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var raw manifestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}
	decoded := Manifest{
		files:     append([]FileEntry(nil), raw.Files...),
		totalSize: raw.TotalSize,
		timestamp: raw.Timestamp,
		version:   raw.Version,
	}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*m = decoded
	return nil
}
