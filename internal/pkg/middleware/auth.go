package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Melodex/app/repository"
	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
	"github.com/ManuelReschke/Melodex/internal/pkg/logger"
	"github.com/ManuelReschke/Melodex/internal/pkg/usercontext"
)

// AccessTokenCookie is read when no Authorization header is sent.
const AccessTokenCookie = "access_token"

var errUnauthorized = apperr.Unauthorized("login required")

// Claims are issued by the identity provider. Subject holds the profile id.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// NewToken signs an HS256 access token for a profile.
func NewToken(secret []byte, userID uint, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates an access token and returns the profile id it names.
func ParseToken(secret []byte, raw string) (uint, *Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return 0, nil, err
	}
	if !token.Valid {
		return 0, nil, errors.New("invalid token")
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, nil, fmt.Errorf("invalid subject %q", claims.Subject)
	}
	return uint(id), claims, nil
}

func extractToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(c.Cookies(AccessTokenCookie))
}

// Authenticate resolves the caller from a bearer token or the access_token
// cookie. The role is read from the profile so billing changes apply at once.
// Requests without a valid token continue as anonymous.
func Authenticate(secret []byte, profiles repository.ProfileRepository) fiber.Handler {
	log := logger.Named("auth")
	return func(c *fiber.Ctx) error {
		raw := extractToken(c)
		if raw == "" {
			return c.Next()
		}
		userID, _, err := ParseToken(secret, raw)
		if err != nil {
			log.Debug("rejected access token", zap.Error(err))
			return c.Next()
		}

		profile, err := profiles.GetByID(c.UserContext(), userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Next()
			}
			log.Error("failed to load profile for token", zap.Uint("user_id", userID), zap.Error(err))
			return apperr.Respond(c, apperr.Internal("failed to load profile", err))
		}

		usercontext.Set(c, usercontext.UserContext{
			UserID:     profile.ID,
			Username:   profile.Username,
			Role:       profile.Role,
			IsLoggedIn: true,
		})
		return c.Next()
	}
}
