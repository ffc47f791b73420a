package controllers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Melodex/app/models"
	"github.com/ManuelReschke/Melodex/app/repository"
	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
	"github.com/ManuelReschke/Melodex/internal/pkg/licensing"
	"github.com/ManuelReschke/Melodex/internal/pkg/objectstore"
	"github.com/ManuelReschke/Melodex/internal/pkg/usercontext"
)

func formInt(c *fiber.Ctx, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.FormValue(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validationf("%s must be a number", key)
	}
	return v, nil
}

// HandleUploadMelody stores an audio loop shared for collaboration.
func (h *Controller) HandleUploadMelody(c *fiber.Ctx) error {
	ctx := c.UserContext()
	producerID := usercontext.GetUserID(c)

	bpm, err := formInt(c, "bpm", 0)
	if err != nil {
		return apperr.Respond(c, err)
	}
	split, err := formInt(c, "split_percentage", 50)
	if err != nil {
		return apperr.Respond(c, err)
	}
	melody := &models.Melody{
		ProducerID:      producerID,
		Title:           strings.TrimSpace(c.FormValue("title")),
		Genre:           strings.TrimSpace(c.FormValue("genre")),
		BPM:             bpm,
		MusicalKey:      strings.TrimSpace(c.FormValue("musical_key")),
		SplitPercentage: split,
	}
	if err := melody.Validate(); err != nil {
		return apperr.Respond(c, apperr.FromValidator(err))
	}

	audio, err := readUpload(c, "audio", audioExts, true)
	if err != nil {
		return apperr.Respond(c, err)
	}
	melody.AudioKey = objectstore.ObjectKey("melodies", producerID, audio.name)
	if _, err := h.Storage.Put(ctx, melody.AudioKey, audio.body, audio.contentType); err != nil {
		return apperr.Respond(c, apperr.External("storage unavailable", err))
	}
	if err := h.Repos.Melody.Create(ctx, melody); err != nil {
		return apperr.Respond(c, apperr.Internal("failed to create melody", err))
	}
	h.Statistics.Invalidate(ctx, producerID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"melody": melody})
}

func (h *Controller) HandleListMelodies(c *fiber.Ctx) error {
	filter := repository.MelodyFilter{
		Search:     c.Query("q"),
		Genre:      c.Query("genre"),
		ProducerID: uint(c.QueryInt("producer_id", 0)),
	}
	page := pageFromQuery(c)
	melodies, total, err := h.Repos.Melody.List(c.UserContext(), filter, page)
	if err != nil {
		return apperr.Respond(c, apperr.Internal("failed to list melodies", err))
	}
	if melodies == nil {
		melodies = []models.Melody{}
	}
	return c.JSON(fiber.Map{"melodies": melodies, "pagination": page.Result(total)})
}

func (h *Controller) HandleGetMelody(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return apperr.Respond(c, err)
	}
	melody, err := h.Repos.Melody.GetByID(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Respond(c, licensing.ErrMelodyNotFound)
		}
		return apperr.Respond(c, apperr.Internal("failed to load melody", err))
	}
	return c.JSON(fiber.Map{"melody": melody})
}

// HandleDownloadMelody issues a collaboration license and a signed link.
func (h *Controller) HandleDownloadMelody(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return apperr.Respond(c, err)
	}
	grant, err := h.Licensing.Grant(c.UserContext(), id, usercontext.GetUserID(c))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(grant)
}
