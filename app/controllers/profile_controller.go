package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Melodex/app/models"
	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
	"github.com/ManuelReschke/Melodex/internal/pkg/usercontext"
)

var (
	errProfileNotFound = apperr.NotFound("profile not found")
	errUsernameTaken   = apperr.Conflict("username is already taken")
	errSelfFollow      = apperr.Validation("you cannot follow yourself")
)

// publicProfile is what other users see.
type publicProfile struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	Bio       string `json:"bio"`
	AvatarURL string `json:"avatar_url"`
	Followers int64  `json:"followers"`
}

type updateProfileRequest struct {
	Username        *string `json:"username" validate:"omitempty,min=3,max=50,alphanum"`
	Bio             *string `json:"bio" validate:"omitempty,max=1000"`
	AvatarURL       *string `json:"avatar_url" validate:"omitempty,url,max=255"`
	PaypalEmail     *string `json:"paypal_email" validate:"omitempty,email,max=200"`
	StripeAccountID *string `json:"stripe_account_id" validate:"omitempty,startswith=acct_,max=100"`
}

func (h *Controller) loadProfile(c *fiber.Ctx, id uint) (*models.Profile, error) {
	p, err := h.Repos.Profile.GetByID(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errProfileNotFound
		}
		return nil, apperr.Internal("failed to load profile", err)
	}
	return p, nil
}

// HandleGetOwnProfile returns the full profile of the caller.
func (h *Controller) HandleGetOwnProfile(c *fiber.Ctx) error {
	p, err := h.loadProfile(c, usercontext.GetUserID(c))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(fiber.Map{
		"profile":            p,
		"payout_paypal":      p.HasPayoutAccount(models.LinePack),
		"payout_stripe":      p.HasPayoutAccount(models.LineSamplePack),
		"stripe_customer":    p.StripeCustomerID != "",
		"subscription_state": toSubscriptionResponse(p),
	})
}

// HandleUpdateOwnProfile changes the editable fields; absent fields stay.
func (h *Controller) HandleUpdateOwnProfile(c *fiber.Ctx) error {
	var req updateProfileRequest
	if err := parseBody(c, &req); err != nil {
		return apperr.Respond(c, err)
	}
	p, err := h.loadProfile(c, usercontext.GetUserID(c))
	if err != nil {
		return apperr.Respond(c, err)
	}

	fields := map[string]interface{}{}
	if req.Username != nil {
		p.Username = strings.TrimSpace(*req.Username)
		fields["username"] = p.Username
	}
	if req.Bio != nil {
		p.Bio = strings.TrimSpace(*req.Bio)
		fields["bio"] = p.Bio
	}
	if req.AvatarURL != nil {
		p.AvatarURL = strings.TrimSpace(*req.AvatarURL)
		fields["avatar_url"] = p.AvatarURL
	}
	if req.PaypalEmail != nil {
		p.PaypalEmail = strings.ToLower(strings.TrimSpace(*req.PaypalEmail))
		fields["paypal_email"] = p.PaypalEmail
	}
	if req.StripeAccountID != nil {
		p.StripeAccountID = strings.TrimSpace(*req.StripeAccountID)
		fields["stripe_account_id"] = p.StripeAccountID
	}
	if err := p.Validate(); err != nil {
		return apperr.Respond(c, apperr.FromValidator(err))
	}

	if err := h.Repos.Profile.UpdateFields(c.UserContext(), p.ID, fields); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Respond(c, errUsernameTaken)
		}
		return apperr.Respond(c, apperr.Internal("failed to update profile", err))
	}
	return c.JSON(fiber.Map{"profile": p})
}

// HandleGetProfile returns the public view of a producer.
func (h *Controller) HandleGetProfile(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return apperr.Respond(c, err)
	}
	p, err := h.loadProfile(c, id)
	if err != nil {
		return apperr.Respond(c, err)
	}
	followers, err := h.Repos.Follow.CountFollowers(c.UserContext(), p.ID)
	if err != nil {
		return apperr.Respond(c, apperr.Internal("failed to count followers", err))
	}
	return c.JSON(publicProfile{
		ID:        p.ID,
		Username:  p.Username,
		Role:      p.Role,
		Bio:       p.Bio,
		AvatarURL: p.AvatarURL,
		Followers: followers,
	})
}

// HandleToggleFollow follows the producer, or unfollows when already following.
func (h *Controller) HandleToggleFollow(c *fiber.Ctx) error {
	producerID, err := paramID(c, "id")
	if err != nil {
		return apperr.Respond(c, err)
	}
	followerID := usercontext.GetUserID(c)
	if producerID == followerID {
		return apperr.Respond(c, errSelfFollow)
	}
	ctx := c.UserContext()
	if _, err := h.loadProfile(c, producerID); err != nil {
		return apperr.Respond(c, err)
	}

	following, err := h.Repos.Follow.Exists(ctx, followerID, producerID)
	if err != nil {
		return apperr.Respond(c, apperr.Internal("failed to load follow", err))
	}
	if following {
		if _, err := h.Repos.Follow.Delete(ctx, followerID, producerID); err != nil {
			return apperr.Respond(c, apperr.Internal("failed to unfollow", err))
		}
	} else {
		if err := h.Repos.Follow.Create(ctx, &models.ProducerFollow{FollowerID: followerID, ProducerID: producerID}); err != nil {
			return apperr.Respond(c, apperr.Internal("failed to follow", err))
		}
	}

	count, err := h.Repos.Follow.CountFollowers(ctx, producerID)
	if err != nil {
		return apperr.Respond(c, apperr.Internal("failed to count followers", err))
	}
	h.Statistics.Invalidate(ctx, producerID)
	return c.JSON(fiber.Map{"following": !following, "followers": count})
}
