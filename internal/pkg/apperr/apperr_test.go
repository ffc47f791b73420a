package apperr

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Unauthorized("login required"), fiber.StatusUnauthorized},
		{Forbidden("nope"), fiber.StatusForbidden},
		{NotFound("missing"), fiber.StatusNotFound},
		{Validation("bad"), fiber.StatusBadRequest},
		{Conflict("dup"), fiber.StatusConflict},
		{External("paypal down", errors.New("timeout")), fiber.StatusInternalServerError},
		{errors.New("boom"), fiber.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", Conflict("dup")), fiber.StatusConflict},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.err), tt.err.Error())
	}
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	sentinel := Conflict("already owned")
	err := fmt.Errorf("initiate: %w", sentinel)
	assert.True(t, errors.Is(err, sentinel))
	assert.Equal(t, KindConflict, KindOf(err))
}

func TestPublicMessageHidesInternalCauses(t *testing.T) {
	assert.Equal(t, "internal server error", PublicMessage(errors.New("pq: connection refused")))
	assert.Equal(t, "internal server error", PublicMessage(Internal("db", errors.New("pq: x"))))
	assert.Equal(t, "price too low", PublicMessage(Validation("price too low")))
	assert.Equal(t, "payment provider unavailable", PublicMessage(External("", errors.New("x"))))
}

func TestRespondWritesErrorBody(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return Respond(c, Forbidden("admin only"))
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"error":"admin only"}`, string(body))
}

func TestFromValidator(t *testing.T) {
	type input struct {
		Email string `validate:"required,email"`
		Split int    `validate:"min=1,max=100"`
	}
	err := validator.New().Struct(input{Email: "nope", Split: 0})
	require.Error(t, err)

	converted := FromValidator(err)
	assert.Equal(t, KindValidation, KindOf(converted))
	assert.Contains(t, converted.Error(), "email must be a valid email")
	assert.Contains(t, converted.Error(), "split must be at least 1")
}
