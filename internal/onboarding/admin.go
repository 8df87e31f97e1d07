package onboarding

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"etinuxe/internal/apperr"
	"etinuxe/internal/db"
	"etinuxe/internal/models"
	"etinuxe/internal/pricing"
)

// Users lists every account.
func (s *Service) Users(ctx context.Context) ([]models.User, error) {
	var out []models.User
	err := s.store.Read(ctx, func(q db.Queries) (err error) {
		out, err = q.ListUsers(ctx)
		return err
	})
	return orEmpty(out), err
}

// AdminUserUpdate carries the fields staff may edit. Nil fields are left alone.
// HealthBucket is applied after HealthScore so it can override the derived bucket.
type AdminUserUpdate struct {
	Name         *string              `json:"name"`
	Email        *string              `json:"email"`
	Location     *string              `json:"location"`
	Status       *models.UserStatus   `json:"status"`
	HealthScore  *int                 `json:"health_score"`
	HealthBucket *models.HealthBucket `json:"health_bucket"`
}

func (in *AdminUserUpdate) validate() error {
	if in.Name != nil {
		if *in.Name = strings.TrimSpace(*in.Name); *in.Name == "" {
			return apperr.Validation("invalid_name", "name cannot be empty")
		}
	}
	if in.Email != nil {
		*in.Email = strings.TrimSpace(*in.Email)
		if at := strings.Index(*in.Email, "@"); at < 1 || at == len(*in.Email)-1 {
			return apperr.Validation("invalid_email", "a valid email is required")
		}
	}
	if in.Location != nil {
		*in.Location = strings.TrimSpace(*in.Location)
	}
	if in.Status != nil && *in.Status != models.UserPendingVerification && *in.Status != models.UserVerified {
		return apperr.Validation("invalid_status", "status must be pending_verification or verified")
	}
	if in.HealthScore != nil && (*in.HealthScore < 0 || *in.HealthScore > 100) {
		return apperr.Validation("invalid_health_score", "health_score must be within 0-100")
	}
	if in.HealthBucket != nil && !in.HealthBucket.Valid() {
		return apperr.Validation("invalid_health_bucket", "unknown health bucket %q", *in.HealthBucket)
	}
	return nil
}

// UpdateUser applies a staff edit to an account. An empty update returns the
// user unchanged.
func (s *Service) UpdateUser(ctx context.Context, userID uuid.UUID, in AdminUserUpdate) (*models.User, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var user *models.User
	err := s.store.Atomic(ctx, func(q db.Queries) error {
		if err := q.LockUser(ctx, userID); err != nil {
			return err
		}
		u, err := q.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		user = u

		changed := false
		if in.Email != nil && *in.Email != u.Email {
			other, err := q.GetUserByEmail(ctx, *in.Email)
			switch {
			case err == nil && other.ID != u.ID:
				return apperr.Conflict("email_taken", "email already registered")
			case err != nil && !errors.Is(err, apperr.ErrNotFound):
				return err
			}
			u.Email = *in.Email
			changed = true
		}
		if in.Name != nil && *in.Name != u.Name {
			u.Name = *in.Name
			changed = true
		}
		if in.Location != nil && *in.Location != u.Location {
			u.Location = *in.Location
			changed = true
		}
		if in.Status != nil && *in.Status != u.Status {
			u.Status = *in.Status
			changed = true
		}
		if in.HealthScore != nil {
			bucket := pricing.BucketForScore(*in.HealthScore)
			if *in.HealthScore != u.HealthScore || bucket != u.HealthBucket {
				u.HealthScore = *in.HealthScore
				u.HealthBucket = bucket
				changed = true
			}
		}
		if in.HealthBucket != nil && *in.HealthBucket != u.HealthBucket {
			u.HealthBucket = *in.HealthBucket
			changed = true
		}
		if !changed {
			return nil
		}
		u.UpdatedAt = s.now().UTC()
		return q.UpdateUser(ctx, u)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("User updated by staff", "user_id", userID)
	return user, nil
}

type RatingResult struct {
	Request *models.MiniaturizationRequest `json:"request"`
	User    *models.User                   `json:"user"`
}

// RateRequest records the staff health rating for a request. The rating also
// becomes the owner's health score, so later pricing uses the staff view.
func (s *Service) RateRequest(ctx context.Context, requestID uuid.UUID, rating int) (*RatingResult, error) {
	if rating < 0 || rating > 100 {
		return nil, apperr.Validation("invalid_rating", "rating must be within 0-100")
	}

	res := &RatingResult{}
	err := s.store.Atomic(ctx, func(q db.Queries) error {
		r, err := q.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		// User before request, matching insurance activation.
		if err := q.LockUser(ctx, r.UserID); err != nil {
			return err
		}
		if r, err = q.LockRequest(ctx, requestID); err != nil {
			return err
		}
		if r.Status == models.RequestCompleted {
			return apperr.Validation("request_completed", "completed requests cannot be rated")
		}
		u, err := q.GetUser(ctx, r.UserID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		r.StaffHealthRating = &rating
		r.StaffHealthRatingAt = &now
		r.UpdatedAt = now
		u.HealthScore = rating
		u.HealthBucket = pricing.BucketForScore(rating)
		u.UpdatedAt = now
		if err := q.UpdateRequest(ctx, r); err != nil {
			return err
		}
		if err := q.UpdateUser(ctx, u); err != nil {
			return err
		}
		res.Request, res.User = r, u
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Request health rated", "request_id", requestID, "rating", rating, "bucket", res.User.HealthBucket)
	return res, nil
}
