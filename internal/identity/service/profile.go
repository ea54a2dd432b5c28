package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"beacon/internal/identity/models"
	dErrors "beacon/pkg/domain-errors"
	"beacon/pkg/platform/sentinel"
)

// Profile returns the caller's identity projection. The tier-upgrade poller
// hits this until an out-of-band role change lands.
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "unknown user")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile")
	}
	return user, nil
}

// Sessions lists the caller's live sessions, current one flagged.
func (s *Service) Sessions(ctx context.Context, userID, currentSessionID uuid.UUID) ([]models.SessionSummary, error) {
	recs, err := s.sessions.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list sessions")
	}
	out := make([]models.SessionSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, models.SessionSummary{
			SessionID:    rec.ID.String(),
			Device:       rec.Device,
			IPAddress:    rec.IPAddress,
			CreatedAt:    rec.CreatedAt,
			LastActivity: rec.LastSeenAt,
			IsCurrent:    rec.ID == currentSessionID,
		})
	}
	return out, nil
}

// SetRole applies an out-of-band role change (payment webhook, operator
// action). Downgrades require explicit force so a stray webhook cannot
// silently revert a tier.
func (s *Service) SetRole(ctx context.Context, userID uuid.UUID, role models.Role, force bool) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "unknown user")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	if !role.AtLeast(user.Role) && !force {
		return nil, dErrors.New(dErrors.CodeConflict, "role downgrade requires force")
	}
	user.Role = role
	if err := s.users.Save(ctx, user); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save role")
	}
	s.logger.InfoContext(ctx, "role updated", "user_id", userID, "role", role)
	return user, nil
}
