package derivatives

import (
	"fmt"
	"path"
	"strings"
)

// Format is the output encoding of a rendition.
type Format string

const (
	FormatWebP Format = "webp"
	FormatJPEG Format = "jpeg"
)

// Extension returns the file extension used in storage keys.
func (f Format) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

// ContentType returns the MIME type written alongside stored objects.
func (f Format) ContentType() string {
	return "image/" + string(f)
}

// Rendition names.
const (
	Original = "original"
	Thumb    = "thumb"
	Gallery  = "gallery"
	PDF      = "pdf"
)

// Spec describes one output of the generator. A zero Height keeps the
// source aspect ratio; a non-zero Height bounds the output inside a box.
type Spec struct {
	Name    string
	Width   int
	Height  int
	Quality int
	Format  Format
}

var defaultRenditions = []Spec{
	{Name: Thumb, Width: 150, Height: 150, Quality: 60, Format: FormatWebP},
	{Name: Gallery, Width: 1280, Quality: 80, Format: FormatJPEG},
	{Name: PDF, Width: 960, Quality: 75, Format: FormatJPEG},
}

// DefaultRenditions returns a copy of the rendition table.
func DefaultRenditions() []Spec {
	return append([]Spec(nil), defaultRenditions...)
}

// Names lists every URL key a completed photo carries, original first.
func Names() []string {
	names := []string{Original}
	for _, spec := range defaultRenditions {
		names = append(names, spec.Name)
	}
	return names
}

// StorageKey is the object key for a rendition of a photo.
func StorageKey(protocolID, photoID string, spec Spec) string {
	return path.Join("protocols", protocolID, "photos", spec.Name, fmt.Sprintf("%s.%s", photoID, spec.Format.Extension()))
}

// OriginalKey is the object key for the uploaded source file.
func OriginalKey(protocolID, photoID, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	return path.Join("protocols", protocolID, "photos", Original, fmt.Sprintf("%s.%s", photoID, ext))
}
