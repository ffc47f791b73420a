// Package imageprocessor validates and normalizes uploaded artwork.
package imageprocessor

import (
	"bytes"
	"errors"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// MaxCoverSize bounds both edges of a stored cover in pixels.
const MaxCoverSize = 1400

const coverJPEGQuality = 85

var ErrNotAnImage = errors.New("file is not a readable image")

// Cover is a decoded, size-bounded cover ready for storage.
type Cover struct {
	Name        string
	ContentType string
	Body        []byte
	Width       int
	Height      int
}

// NormalizeCover decodes body, applies the EXIF orientation and fits the
// image into MaxCoverSize x MaxCoverSize. PNG stays PNG, everything else is
// re-encoded as JPEG.
func NormalizeCover(name string, body []byte) (*Cover, error) {
	img, err := imaging.Decode(bytes.NewReader(body), imaging.AutoOrientation(true))
	if err != nil {
		return nil, ErrNotAnImage
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, ErrNotAnImage
	}

	var out image.Image = img
	if b.Dx() > MaxCoverSize || b.Dy() > MaxCoverSize {
		out = imaging.Fit(img, MaxCoverSize, MaxCoverSize, imaging.Lanczos)
	}

	base := strings.TrimSuffix(name, filepath.Ext(name))
	format, ext, contentType := imaging.JPEG, ".jpg", "image/jpeg"
	if strings.EqualFold(filepath.Ext(name), ".png") {
		format, ext, contentType = imaging.PNG, ".png", "image/png"
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, format, imaging.JPEGQuality(coverJPEGQuality)); err != nil {
		return nil, err
	}
	return &Cover{
		Name:        base + ext,
		ContentType: contentType,
		Body:        buf.Bytes(),
		Width:       out.Bounds().Dx(),
		Height:      out.Bounds().Dy(),
	}, nil
}
