package controllers

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Melodex/app/repository"
	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
	"github.com/ManuelReschke/Melodex/internal/pkg/usercontext"
)

var validate = validator.New()

// parseBody decodes the JSON body into dst and runs its validate tags.
func parseBody(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		return apperr.FromValidator(err)
	}
	return nil
}

func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validationf("invalid %s", name)
	}
	return uint(id), nil
}

func pageFromQuery(c *fiber.Ctx) repository.Page {
	return repository.NewPage(c.QueryInt("page", 1), c.QueryInt("limit", repository.DefaultPageLimit))
}

// parseDate accepts RFC3339 timestamps and plain dates.
func parseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func saleFilterFromQuery(c *fiber.Ctx) (repository.SaleFilter, error) {
	f := repository.SaleFilter{Status: strings.TrimSpace(c.Query("status"))}
	var err error
	if f.From, err = parseDate(c.Query("from")); err != nil {
		return f, apperr.Validation("from must be a date (YYYY-MM-DD) or RFC3339 timestamp")
	}
	if f.To, err = parseDate(c.Query("to")); err != nil {
		return f, apperr.Validation("to must be a date (YYYY-MM-DD) or RFC3339 timestamp")
	}
	return f, nil
}

// ClientKey identifies the caller for rate limiting: the profile id when
// logged in, otherwise the client address.
func ClientKey(c *fiber.Ctx) string {
	if id := usercontext.GetUserID(c); id != 0 {
		return "user:" + strconv.FormatUint(uint64(id), 10)
	}
	return "ip:" + ClientIP(c)
}

// ClientIP is the remote address as resolved by fiber. Forwarding headers
// only count when the app is configured with trusted proxies.
func ClientIP(c *fiber.Ctx) string {
	return strings.TrimPrefix(c.IP(), "::ffff:")
}
