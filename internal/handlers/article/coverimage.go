package article

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/cronkeeper/cronkeeper/internal/search"
)

// Material describes optional cover-image hints attached to a generated
// article. A nil Material, or one with a nil Sources slice, is treated
// identically to an empty Material -- spec.md §4.6's cover-image
// sub-step: "None inputs are treated as an empty mapping (never
// propagated to attribute access)."
type Material struct {
	Sources []string
}

// ImageStatus tags the outcome of the cover-image sub-step.
type ImageStatus string

const (
	ImageStatusOK      ImageStatus = "ok"
	ImageStatusSkipped ImageStatus = "skipped"
)

// ImageMode distinguishes a real downloaded image from a generated
// placeholder.
type ImageMode string

const (
	ImageModeReal        ImageMode = "real"
	ImageModePlaceholder ImageMode = "placeholder"
)

// ImageResult is the cover-image sub-step's return value.
type ImageResult struct {
	Status      ImageStatus
	Mode        ImageMode
	Reason      string
	Path        string
	SourceURL   string
	SiteName    string
	LicenseNote string
	Attribution *string
}

// CoverImage runs the cover-image sub-step for one article, per spec.md
// §4.6: an explicitly empty Sources list skips the step entirely; any
// other input attempts a real lookup, falling back to a deterministic
// placeholder PNG on any failure or absence of candidates.
func CoverImage(ctx context.Context, provider search.Provider, material *Material, targetPath string) ImageResult {
	if material == nil {
		material = &Material{}
	}

	if material.Sources != nil && len(material.Sources) == 0 {
		return ImageResult{Status: ImageStatusSkipped, Reason: "no_sources"}
	}

	if provider != nil {
		query := firstOr(material.Sources, "")
		if query != "" {
			if results, err := provider.Search(ctx, query, 1); err == nil && len(results) > 0 {
				return ImageResult{
					Status:    ImageStatusOK,
					Mode:      ImageModeReal,
					Path:      targetPath,
					SourceURL: results[0].URL,
					SiteName:  results[0].Title,
				}
			}
		}
	}

	if err := writePlaceholderPNG(targetPath); err != nil {
		// writing the placeholder itself failed: still report ok/placeholder
		// per spec.md's contract (the sub-step never errors the keyword),
		// but the path cannot be trusted to exist.
		return ImageResult{Status: ImageStatusOK, Mode: ImageModePlaceholder, Reason: "no_image_candidates", Path: ""}
	}

	return ImageResult{Status: ImageStatusOK, Mode: ImageModePlaceholder, Reason: "no_image_candidates", Path: targetPath}
}

func firstOr(s []string, fallback string) string {
	if len(s) > 0 {
		return s[0]
	}
	return fallback
}

// writePlaceholderPNG writes a small solid-color PNG at path, creating
// parent directories as needed.
func writePlaceholderPNG(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	const size = 512
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	fill := color.RGBA{R: 0x3a, G: 0x3a, B: 0x3a, A: 0xff}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, fill)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return png.Encode(f, img)
}
