package controllers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Melodex/app/models"
	"github.com/ManuelReschke/Melodex/app/repository"
	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
	"github.com/ManuelReschke/Melodex/internal/pkg/commission"
	"github.com/ManuelReschke/Melodex/internal/pkg/entitlements"
	"github.com/ManuelReschke/Melodex/internal/pkg/ledger"
	"github.com/ManuelReschke/Melodex/internal/pkg/licensing"
	"github.com/ManuelReschke/Melodex/internal/pkg/objectstore"
	"github.com/ManuelReschke/Melodex/internal/pkg/usercontext"
)

var errCategoryNotFound = apperr.Validation("unknown category")

// HandleCreatePack stores an uploaded pack archive and lists it for sale.
func (h *Controller) HandleCreatePack(line models.ProductLine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		producerID := usercontext.GetUserID(c)

		price, err := commission.ParsePrice(c.FormValue("price"))
		if err != nil {
			return apperr.Respond(c, err)
		}
		pack := &models.Pack{
			ProducerID:  producerID,
			Title:       strings.TrimSpace(c.FormValue("title")),
			Description: strings.TrimSpace(c.FormValue("description")),
			PriceCents:  price,
			Currency:    strings.ToUpper(strings.TrimSpace(c.FormValue("currency", "USD"))),
		}
		if raw := strings.TrimSpace(c.FormValue("category_id")); raw != "" {
			id, perr := strconv.ParseUint(raw, 10, 64)
			if perr != nil {
				return apperr.Respond(c, errCategoryNotFound)
			}
			if _, err := h.Repos.Category.GetByID(ctx, uint(id)); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.Respond(c, errCategoryNotFound)
				}
				return apperr.Respond(c, apperr.Internal("failed to load category", err))
			}
			cid := uint(id)
			pack.CategoryID = &cid
		}
		if err := pack.Validate(); err != nil {
			return apperr.Respond(c, apperr.FromValidator(err))
		}

		archive, err := readUpload(c, "file", archiveExts, true)
		if err != nil {
			return apperr.Respond(c, err)
		}
		cover, err := readCover(c)
		if err != nil {
			return apperr.Respond(c, err)
		}

		pack.FileKey = objectstore.ObjectKey(linePath(line), producerID, archive.name)
		if _, err := h.Storage.Put(ctx, pack.FileKey, archive.body, archive.contentType); err != nil {
			return apperr.Respond(c, apperr.External("storage unavailable", err))
		}
		if cover != nil {
			key := objectstore.ObjectKey("covers", producerID, cover.Name)
			url, err := h.Storage.Put(ctx, key, cover.Body, cover.ContentType)
			if err != nil {
				return apperr.Respond(c, apperr.External("storage unavailable", err))
			}
			pack.CoverURL = url
		}

		if err := h.Repos.Pack.Create(ctx, line, pack); err != nil {
			return apperr.Respond(c, apperr.Internal("failed to create pack", err))
		}
		h.Statistics.Invalidate(ctx, producerID)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"pack":            pack,
			"commission_rate": ledger.RateFor(line).Percent(),
		})
	}
}

// HandleListPacks lists a storefront with search, category and producer filters.
func (h *Controller) HandleListPacks(line models.ProductLine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		filter := repository.PackFilter{
			Search:     c.Query("q"),
			CategoryID: uint(c.QueryInt("category_id", 0)),
			ProducerID: uint(c.QueryInt("producer_id", 0)),
		}
		page := pageFromQuery(c)
		packs, total, err := h.Repos.Pack.List(c.UserContext(), line, filter, page)
		if err != nil {
			return apperr.Respond(c, apperr.Internal("failed to list packs", err))
		}
		if packs == nil {
			packs = []models.Pack{}
		}
		return c.JSON(fiber.Map{"packs": packs, "pagination": page.Result(total)})
	}
}

func (h *Controller) HandleGetPack(line models.ProductLine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return apperr.Respond(c, err)
		}
		pack, err := h.Repos.Pack.GetByID(c.UserContext(), line, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.Respond(c, ledger.ErrItemNotFound)
			}
			return apperr.Respond(c, apperr.Internal("failed to load pack", err))
		}
		return c.JSON(fiber.Map{"pack": pack, "commission_rate": ledger.RateFor(line).Percent()})
	}
}

// HandleDownloadPack returns a short-lived link for owners and the producer.
func (h *Controller) HandleDownloadPack(line models.ProductLine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return apperr.Respond(c, err)
		}
		ctx := c.UserContext()
		pack, err := h.Repos.Pack.GetByID(ctx, line, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.Respond(c, ledger.ErrItemNotFound)
			}
			return apperr.Respond(c, apperr.Internal("failed to load pack", err))
		}

		ok, err := h.Gate.CanAccess(ctx, usercontext.GetUserID(c), entitlements.PackDownload(line, id))
		if err != nil {
			return apperr.Respond(c, err)
		}
		if !ok {
			return apperr.Respond(c, apperr.Forbidden("purchase this pack to download it"))
		}

		url, err := h.Storage.SignedURL(ctx, pack.FileKey, licensing.DownloadURLTTL)
		if err != nil {
			return apperr.Respond(c, apperr.External("storage unavailable", err))
		}
		return c.JSON(fiber.Map{
			"download_url": url,
			"expires_at":   time.Now().Add(licensing.DownloadURLTTL).UTC(),
		})
	}
}

func (h *Controller) HandleListCategories(c *fiber.Ctx) error {
	categories, err := h.Repos.Category.List(c.UserContext())
	if err != nil {
		return apperr.Respond(c, apperr.Internal("failed to list categories", err))
	}
	if categories == nil {
		categories = []models.Category{}
	}
	return c.JSON(fiber.Map{"categories": categories})
}
