package integrity

import (
	"fmt"
	"strings"
	"time"

	"handoverphotos/internal/services"
)

// ManifestVersion tags the manifest schema.
const ManifestVersion = "2.0"

// FileEntry is one artifact recorded in a manifest.
type FileEntry struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// Manifest is an immutable inventory of artifacts. Treat values returned by
// Files as read-only copies.
type Manifest struct {
	files     []FileEntry
	totalSize int64
	timestamp time.Time
	version   string
}

func (m Manifest) Files() []FileEntry {
	return append([]FileEntry(nil), m.files...)
}

func (m Manifest) TotalSize() int64 { return m.totalSize }

func (m Manifest) Timestamp() time.Time { return m.timestamp }

func (m Manifest) Version() string { return m.version }

// Lookup returns the entry with the given name.
func (m Manifest) Lookup(name string) (FileEntry, bool) {
	for _, f := range m.files {
		if f.Name == name {
			return f, true
		}
	}
	return FileEntry{}, false
}

// Validate checks the structural invariants of a manifest read back from storage.
func (m Manifest) Validate() error {
	if len(m.files) == 0 {
		return services.Wrap(services.ErrInvalidInput, "integrity", "validate manifest", "manifest has no files", nil)
	}
	var sum int64
	for _, f := range m.files {
		sum += f.Size
	}
	if sum != m.totalSize {
		return services.Wrap(services.ErrInvalidInput, "integrity", "validate manifest",
			fmt.Sprintf("total size %d does not match sum of files %d", m.totalSize, sum), nil)
	}
	return nil
}

// Builder creates manifests. The zero value stamps manifests with time.Now.
type Builder struct {
	Now func() time.Time
}

func (b Builder) now() time.Time {
	if b.Now != nil {
		return b.Now().UTC()
	}
	return time.Now().UTC()
}

// Build aggregates files into a new manifest. It fails with ErrInvalidInput
// when files is empty or an entry is malformed.
func (b Builder) Build(files []FileEntry) (Manifest, error) {
	if len(files) == 0 {
		return Manifest{}, services.Wrap(services.ErrInvalidInput, "integrity", "build manifest", "no files", nil)
	}
	copied := make([]FileEntry, len(files))
	var total int64
	for i, f := range files {
		if strings.TrimSpace(f.Name) == "" {
			return Manifest{}, services.Wrap(services.ErrInvalidInput, "integrity", "build manifest",
				fmt.Sprintf("file %d has no name", i), nil)
		}
		if f.Size < 0 {
			return Manifest{}, services.Wrap(services.ErrInvalidInput, "integrity", "build manifest",
				fmt.Sprintf("file %q has negative size %d", f.Name, f.Size), nil)
		}
		hash := strings.ToLower(strings.TrimSpace(f.Hash))
		if !ValidHash(hash) {
			return Manifest{}, services.Wrap(services.ErrInvalidInput, "integrity", "build manifest",
				fmt.Sprintf("file %q has malformed hash", f.Name), nil)
		}
		copied[i] = FileEntry{Name: f.Name, Hash: hash, Size: f.Size}
		total += f.Size
	}
	return Manifest{
		files:     copied,
		totalSize: total,
		timestamp: b.now(),
		version:   ManifestVersion,
	}, nil
}

// BuildManifest builds a manifest stamped with the current time.
func BuildManifest(files []FileEntry) (Manifest, error) {
	return Builder{}.Build(files)
}

// Supersede builds a replacement manifest from the current files plus added.
// The receiver is left untouched.
func (m Manifest) Supersede(b Builder, added ...FileEntry) (Manifest, error) {
	files := make([]FileEntry, 0, len(m.files)+len(added))
	files = append(files, m.files...)
	files = append(files, added...)
	return b.Build(files)
}
