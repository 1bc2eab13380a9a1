package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/transfa/rewards-service/internal/domain"
	"github.com/transfa/rewards-service/internal/store"
	"github.com/transfa/rewards-service/pkg/metrics"
)

// RoleManager changes administrative roles. The top role moves only through
// TransferTopRole so it always has exactly one holder.
type RoleManager struct {
	runner
}

// NewRoleManager creates a role manager.
func NewRoleManager(repo store.Repository, m *metrics.Collector, logger *slog.Logger) *RoleManager {
	return &RoleManager{runner: runner{repo: repo, metrics: m, logger: logger}}
}

// Authorize returns a PermissionDeniedError unless userID holds at least required.
func (r *RoleManager) Authorize(ctx context.Context, userID string, required domain.Role) error {
	member, err := r.repo.FindMember(ctx, userID)
	if errors.Is(err, store.ErrMemberNotFound) {
		return &domain.PermissionDeniedError{UserID: userID, Required: required}
	}
	if err != nil {
		return fmt.Errorf("failed to load member: %w", err)
	}
	if !member.Role.AtLeast(required) {
		return &domain.PermissionDeniedError{UserID: userID, Required: required, Actual: member.Role}
	}
	return nil
}

// GrantRole sets userID's role. The actor must be an admin ranked at least as high as
// the role being granted.
func (r *RoleManager) GrantRole(ctx context.Context, actorID, userID string, role domain.Role) (*domain.Member, error) {
	if err := validateUserID("actor_id", actorID); err != nil {
		return nil, err
	}
	if err := validateUserID("user_id", userID); err != nil {
		return nil, err
	}
	if role.Rank() < 0 {
		return nil, &domain.ValidationError{Field: "role", Reason: "unknown role " + string(role)}
	}
	if role == domain.TopRole {
		return nil, &domain.ValidationError{Field: "role", Reason: "the top role can only be transferred by its holder"}
	}

	var member *domain.Member
	err := r.run(ctx, "grant_role", func(ctx context.Context, tx store.Tx, _ *eventBatch) error {
		actor, err := lockMember(ctx, tx, "actor_id", actorID)
		if err != nil {
			return err
		}
		if !actor.Role.AtLeast(domain.RoleAdmin) || !actor.Role.AtLeast(role) {
			required := role
			if !required.AtLeast(domain.RoleAdmin) {
				required = domain.RoleAdmin
			}
			return &domain.PermissionDeniedError{UserID: actorID, Required: required, Actual: actor.Role}
		}
		member, err = lockMember(ctx, tx, "user_id", userID)
		if err != nil {
			return err
		}
		if member.Role == domain.TopRole {
			return &domain.ValidationError{Field: "user_id", Reason: "holds the top role; transfer it first"}
		}
		if err := tx.UpdateMemberRole(ctx, userID, role); err != nil {
			return err
		}
		member.Role = role
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("role granted", "component", "roles", "actor_id", actorID, "user_id", userID, "role", role)
	return member, nil
}

// TransferTopRole moves the top role from currentID to nextID in one transaction.
// The previous holder is demoted to admin first, so the role is never held twice.
func (r *RoleManager) TransferTopRole(ctx context.Context, currentID, nextID string) error {
	if err := validateUserID("current_id", currentID); err != nil {
		return err
	}
	if err := validateUserID("next_id", nextID); err != nil {
		return err
	}
	if currentID == nextID {
		return &domain.ValidationError{Field: "next_id", Reason: "must differ from the current holder"}
	}

	err := r.run(ctx, "transfer_top_role", func(ctx context.Context, tx store.Tx, _ *eventBatch) error {
		current, err := lockMember(ctx, tx, "current_id", currentID)
		if err != nil {
			return err
		}
		if current.Role != domain.TopRole {
			return &domain.PermissionDeniedError{UserID: currentID, Required: domain.TopRole, Actual: current.Role}
		}
		if _, err := lockMember(ctx, tx, "next_id", nextID); err != nil {
			return err
		}

		if err := tx.UpdateMemberRole(ctx, currentID, domain.RoleAdmin); err != nil {
			return err
		}
		if err := tx.UpdateMemberRole(ctx, nextID, domain.TopRole); err != nil {
			return err
		}
		holders, err := tx.CountMembersWithRole(ctx, domain.TopRole)
		if err != nil {
			return err
		}
		if holders != 1 {
			return &domain.IntegrityViolationError{Entity: "members", Reason: fmt.Sprintf("top role would have %d holders", holders)}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("top role transferred", "component", "roles", "from_user_id", currentID, "to_user_id", nextID)
	return nil
}

func lockMember(ctx context.Context, tx store.Tx, field, userID string) (*domain.Member, error) {
	member, err := tx.LockMember(ctx, userID)
	if errors.Is(err, store.ErrMemberNotFound) {
		return nil, &domain.ValidationError{Field: field, Reason: "unknown member " + userID}
	}
	return member, err
}
