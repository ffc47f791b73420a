package controllers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
	"github.com/ManuelReschke/Melodex/internal/pkg/entitlements"
	"github.com/ManuelReschke/Melodex/internal/pkg/imageprocessor"
	"github.com/ManuelReschke/Melodex/internal/pkg/objectstore"
	"github.com/ManuelReschke/Melodex/internal/pkg/usercontext"
)

var (
	archiveExts = []string{".zip"}
	audioExts   = []string{".wav", ".mp3", ".flac", ".aiff", ".aif", ".ogg"}
	imageExts   = []string{".jpg", ".jpeg", ".png", ".webp"}
)

type upload struct {
	name        string
	ext         string
	contentType string
	body        []byte
}

// readUpload loads a multipart file after checking its extension and the
// caller's plan limit. Missing optional files return nil.
func readUpload(c *fiber.Ctx, field string, allowed []string, required bool) (*upload, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if required {
			return nil, apperr.Validationf("%s is required", field)
		}
		return nil, nil
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !containsString(allowed, ext) {
		return nil, apperr.Validationf("%s must be one of %s", field, strings.Join(allowed, ", "))
	}

	limit := entitlements.MaxUploadBytes(usercontext.GetUserContext(c).Role)
	if fh.Size > limit {
		return nil, apperr.Validationf("%s exceeds the %d MB limit of your plan", field, limit>>20)
	}

	body, err := readMultipart(fh)
	if err != nil {
		return nil, apperr.Validation(fmt.Sprintf("could not read %s", field))
	}
	return &upload{
		name:        fh.Filename,
		ext:         ext,
		contentType: objectstore.ContentType(ext),
		body:        body,
	}, nil
}

var errInvalidCover = apperr.Validation("cover must be a valid JPEG, PNG or WebP image")

// readCover loads the optional cover image and bounds its size.
func readCover(c *fiber.Ctx) (*imageprocessor.Cover, error) {
	raw, err := readUpload(c, "cover", imageExts, false)
	if err != nil || raw == nil {
		return nil, err
	}
	cover, err := imageprocessor.NormalizeCover(raw.name, raw.body)
	if err != nil {
		if errors.Is(err, imageprocessor.ErrNotAnImage) {
			return nil, errInvalidCover
		}
		return nil, apperr.Internal("failed to process cover", err)
	}
	return cover, nil
}

func readMultipart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
