package derivatives

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"log/slog"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"

	"handoverphotos/internal/logging"
	"handoverphotos/internal/services"
)

// Rendition is one encoded output.
type Rendition struct {
	Spec   Spec
	Width  int
	Height int
	Data   []byte
}

// Set holds every rendition generated from one source, in table order.
type Set struct {
	SourceType   string
	SourceWidth  int
	SourceHeight int
	Renditions   []Rendition
}

// Get returns the rendition with the given name.
func (s Set) Get(name string) (Rendition, bool) {
	for _, r := range s.Renditions {
		if r.Spec.Name == name {
			return r, true
		}
	}
	return Rendition{}, false
}

// Generator produces renditions from source image bytes.
type Generator struct {
	specs  []Spec
	logger *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithRenditions replaces the rendition table.
func WithRenditions(specs []Spec) Option {
	return func(g *Generator) { g.specs = append([]Spec(nil), specs...) }
}

// WithLogger sets the logger used for generation diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

// NewGenerator constructs a generator using the default rendition table.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{specs: DefaultRenditions()}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.NewComponentLogger(g.logger, "derivatives")
	return g
}

// Generate decodes src and encodes every configured rendition. It fails with
// ErrEmptyInput for empty input and ErrUnsupportedMedia when src is not a
// decodable raster image. On failure the returned Set is empty.
func (g *Generator) Generate(src []byte) (Set, error) {
	if len(src) == 0 {
		return Set{}, services.Wrap(services.ErrEmptyInput, "derivatives", "generate", "source is empty", nil)
	}
	mime := mimetype.Detect(src)
	if !strings.HasPrefix(mime.String(), "image/") {
		return Set{}, services.Wrap(services.ErrUnsupportedMedia, "derivatives", "generate",
			fmt.Sprintf("source type %s is not an image", mime.String()), nil)
	}
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return Set{}, services.Wrap(services.ErrUnsupportedMedia, "derivatives", "decode",
			fmt.Sprintf("cannot decode %s", mime.String()), err)
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return Set{}, services.Wrap(services.ErrUnsupportedMedia, "derivatives", "decode", "image has no pixels", nil)
	}

	out := make([]Rendition, 0, len(g.specs))
	for _, spec := range g.specs {
		resized := resize(img, spec)
		var buf bytes.Buffer
		if err := encode(&buf, resized, spec); err != nil {
			g.logger.Warn("rendition encode failed",
				logging.String("rendition", spec.Name),
				logging.Error(err),
			)
			return Set{}, services.Wrap(services.ErrProcessing, "derivatives", "encode",
				fmt.Sprintf("rendition %s", spec.Name), err)
		}
		rb := resized.Bounds()
		out = append(out, Rendition{Spec: spec, Width: rb.Dx(), Height: rb.Dy(), Data: buf.Bytes()})
	}

	g.logger.Debug("renditions generated",
		logging.String("source_type", mime.String()),
		logging.Int("source_width", bounds.Dx()),
		logging.Int("source_height", bounds.Dy()),
		logging.Int("count", len(out)),
	)
	return Set{
		SourceType:   mime.String(),
		SourceWidth:  bounds.Dx(),
		SourceHeight: bounds.Dy(),
		Renditions:   out,
	}, nil
}

// resize never upscales. Boxed specs fit inside Width x Height; width-only
// specs scale to Width and keep the aspect ratio.
func resize(img image.Image, spec Spec) image.Image {
	b := img.Bounds()
	if spec.Height > 0 {
		if b.Dx() <= spec.Width && b.Dy() <= spec.Height {
			return img
		}
		return imaging.Fit(img, spec.Width, spec.Height, imaging.Lanczos)
	}
	if b.Dx() <= spec.Width {
		return img
	}
	return imaging.Resize(img, spec.Width, 0, imaging.Lanczos)
}

func encode(w io.Writer, img image.Image, spec Spec) error {
	switch spec.Format {
	case FormatJPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(spec.Quality))
	case FormatWebP:
		return webp.Encode(w, img, &webp.Options{Quality: float32(spec.Quality)})
	default:
		return fmt.Errorf("unsupported rendition format %q", spec.Format)
	}
}
