package derivatives_test

import (
	"bytes"
	"errors"
	"image"
	_ "image/jpeg"
	"testing"

	_ "golang.org/x/image/webp"

	"handoverphotos/internal/derivatives"
	"handoverphotos/internal/services"
	"handoverphotos/internal/testsupport"
)

func TestGenerateProducesEveryRendition(t *testing.T) {
	gen := derivatives.NewGenerator()
	set, err := gen.Generate(testsupport.JPEG(t, 2000, 1000))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if set.SourceType != "image/jpeg" || set.SourceWidth != 2000 || set.SourceHeight != 1000 {
		t.Fatalf("unexpected source info: %+v", set)
	}

	want := map[string][2]int{
		derivatives.Thumb:   {150, 75},
		derivatives.Gallery: {1280, 640},
		derivatives.PDF:     {960, 480},
	}
	if len(set.Renditions) != len(want) {
		t.Fatalf("expected %d renditions, got %d", len(want), len(set.Renditions))
	}
	for name, dims := range want {
		r, ok := set.Get(name)
		if !ok {
			t.Fatalf("missing rendition %s", name)
		}
		if r.Width != dims[0] || r.Height != dims[1] {
			t.Fatalf("%s: got %dx%d want %dx%d", name, r.Width, r.Height, dims[0], dims[1])
		}
		cfg, format, err := image.DecodeConfig(bytes.NewReader(r.Data))
		if err != nil {
			t.Fatalf("%s: decode output: %v", name, err)
		}
		if format != string(r.Spec.Format) {
			t.Fatalf("%s: encoded as %s, want %s", name, format, r.Spec.Format)
		}
		if cfg.Width != r.Width || cfg.Height != r.Height {
			t.Fatalf("%s: encoded size %dx%d differs from reported %dx%d", name, cfg.Width, cfg.Height, r.Width, r.Height)
		}
	}
}

func TestGenerateNeverUpscales(t *testing.T) {
	set, err := derivatives.NewGenerator().Generate(testsupport.PNG(t, 100, 40))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	for _, r := range set.Renditions {
		if r.Width != 100 || r.Height != 40 {
			t.Fatalf("%s: expected source size to be kept, got %dx%d", r.Spec.Name, r.Width, r.Height)
		}
	}
}

func TestGenerateFitsPortraitThumbInsideBox(t *testing.T) {
	set, err := derivatives.NewGenerator().Generate(testsupport.JPEG(t, 600, 1200))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	thumb, _ := set.Get(derivatives.Thumb)
	if thumb.Width != 75 || thumb.Height != 150 {
		t.Fatalf("unexpected portrait thumb %dx%d", thumb.Width, thumb.Height)
	}
	gallery, _ := set.Get(derivatives.Gallery)
	if gallery.Width != 600 || gallery.Height != 1200 {
		t.Fatalf("narrow source must not be upscaled, got %dx%d", gallery.Width, gallery.Height)
	}
}

func TestGenerateRejectsBadInput(t *testing.T) {
	gen := derivatives.NewGenerator()
	jpeg := testsupport.JPEG(t, 32, 32)

	tests := []struct {
		name   string
		input  []byte
		marker error
	}{
		{"nil", nil, services.ErrEmptyInput},
		{"empty", []byte{}, services.ErrEmptyInput},
		{"text", []byte("this is not an image at all"), services.ErrUnsupportedMedia},
		{"pdf", []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"), services.ErrUnsupportedMedia},
		{"truncated jpeg", jpeg[:len(jpeg)/4], services.ErrUnsupportedMedia},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := gen.Generate(tt.input)
			if !errors.Is(err, tt.marker) {
				t.Fatalf("expected %v, got %v", tt.marker, err)
			}
			if len(set.Renditions) != 0 {
				t.Fatalf("failed generation must return no renditions, got %d", len(set.Renditions))
			}
		})
	}
}

func TestRenditionTableAndKeys(t *testing.T) {
	specs := derivatives.DefaultRenditions()
	specs[0].Width = 1
	if derivatives.DefaultRenditions()[0].Width != 150 {
		t.Fatal("DefaultRenditions must return a copy")
	}

	names := derivatives.Names()
	if len(names) != 4 || names[0] != derivatives.Original || names[1] != derivatives.Thumb {
		t.Fatalf("unexpected names: %v", names)
	}

	thumb := derivatives.DefaultRenditions()[0]
	if got := derivatives.StorageKey("p1", "ph1", thumb); got != "protocols/p1/photos/thumb/ph1.webp" {
		t.Fatalf("unexpected thumb key %q", got)
	}
	gallery := derivatives.DefaultRenditions()[1]
	if got := derivatives.StorageKey("p1", "ph1", gallery); got != "protocols/p1/photos/gallery/ph1.jpg" {
		t.Fatalf("unexpected gallery key %q", got)
	}
	if got := derivatives.OriginalKey("p1", "ph1", ".JPEG"); got != "protocols/p1/photos/original/ph1.jpeg" {
		t.Fatalf("unexpected original key %q", got)
	}
	if got := derivatives.OriginalKey("p1", "ph1", ""); got != "protocols/p1/photos/original/ph1.bin" {
		t.Fatalf("unexpected fallback key %q", got)
	}
	if derivatives.FormatJPEG.ContentType() != "image/jpeg" || derivatives.FormatWebP.ContentType() != "image/webp" {
		t.Fatal("unexpected content types")
	}
}

func TestWithRenditionsOverridesTable(t *testing.T) {
	gen := derivatives.NewGenerator(derivatives.WithRenditions([]derivatives.Spec{
		{Name: "tiny", Width: 10, Quality: 50, Format: derivatives.FormatJPEG},
	}))
	set, err := gen.Generate(testsupport.JPEG(t, 40, 20))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(set.Renditions) != 1 || set.Renditions[0].Width != 10 || set.Renditions[0].Height != 5 {
		t.Fatalf("unexpected custom renditions: %+v", set.Renditions)
	}
}
