package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/meridianhq/tenancy/pkg/events"
	"github.com/meridianhq/tenancy/pkg/roles"
)

// ListMembers retrieves all memberships of an organization
func (s *PostgresService) ListMembers(ctx context.Context, orgID int64) ([]*Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE organization_id = $1
		ORDER BY created_at ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetMember retrieves a specific membership
func (s *PostgresService) GetMember(ctx context.Context, orgID, userID int64) (*Membership, error) {
	m, err := s.getMembership(ctx, s.db, orgID, userID, false)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrMembershipNotFound
	}
	return m, nil
}

// AddMember adds a user to an organization at the given role. Owner is
// rejected; the owner role only moves through TransferOwnership. The call is
// idempotent: an existing membership is returned unchanged, and a concurrent
// duplicate insert is resolved by re-reading the winning row.
func (s *PostgresService) AddMember(ctx context.Context, orgID int64, user User, role roles.Role) (*Membership, error) {
	start := time.Now()
	membership, created, err := s.addMember(ctx, orgID, user, role)
	s.observe("add_member", start, err)
	if err != nil {
		return nil, err
	}

	if created {
		s.emit(ctx, events.ModeIsolated, &events.Context{
			Event:        events.EventMemberAdded,
			Organization: &Organization{ID: orgID},
			User:         &user,
			Membership:   membership,
			Role:         string(role),
		})
		if s.metrics != nil {
			s.metrics.MembershipsCreatedTotal.WithLabelValues("add_member").Inc()
		}
	}
	return membership, nil
}

func (s *PostgresService) addMember(ctx context.Context, orgID int64, user User, role roles.Role) (*Membership, bool, error) {
	if role == roles.RoleOwner {
		return nil, false, ErrCannotHaveMultipleOwners
	}
	if !roles.Valid(role) {
		return nil, false, ErrInvalidRole
	}

	var (
		membership *Membership
		created    bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.lockOrganization(ctx, tx, orgID); err != nil {
			return err
		}
		existing, err := s.getMembership(ctx, tx, orgID, user.ID, false)
		if err != nil {
			return err
		}
		if existing != nil {
			membership = existing
			return nil
		}
		if err := s.checkOrganizationLimit(ctx, tx, user.ID); err != nil {
			return err
		}
		membership, err = s.insertMembership(ctx, tx, orgID, user.ID, role, nil)
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		// A concurrent insert through another path won the unique
		// constraint; the membership exists now, so return it.
		if isUniqueViolation(err, "") {
			existing, readErr := s.getMembership(ctx, s.db, orgID, user.ID, false)
			if readErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}
	return membership, created, nil
}

// RemoveMember removes a user from an organization. Absent membership is a
// no-op; the owner can never be removed. The organization lock serializes
// removal against concurrent transfer and role-change operations.
func (s *PostgresService) RemoveMember(ctx context.Context, orgID, userID int64) error {
	start := time.Now()
	var removed *Membership
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.lockOrganization(ctx, tx, orgID); err != nil {
			return err
		}
		m, err := s.getMembership(ctx, tx, orgID, userID, true)
		if err != nil {
			return err
		}
		if m == nil {
			return nil
		}
		// Re-checked under the lock: a transfer committed before we got
		// here may have made this membership the owner.
		if m.Role == roles.RoleOwner {
			return ErrCannotRemoveOwner
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM memberships WHERE id = $1
		`, m.ID); err != nil {
			return fmt.Errorf("failed to remove member: %w", err)
		}
		removed = m
		return nil
	})
	s.observe("remove_member", start, err)
	if err != nil {
		return err
	}
	if removed == nil {
		return nil
	}

	s.invalidateRole(ctx, orgID, userID)
	s.emit(ctx, events.ModeIsolated, &events.Context{
		Event:        events.EventMemberRemoved,
		Organization: &Organization{ID: orgID},
		Membership:   removed,
		Role:         string(removed.Role),
	})
	if s.metrics != nil {
		s.metrics.MembershipsRemovedTotal.Inc()
	}
	return nil
}

// ChangeRole sets a member's role. Moves to or from owner are rejected; the
// owner role only travels through TransferOwnership. A same-role request is
// a no-op and emits no event.
func (s *PostgresService) ChangeRole(ctx context.Context, orgID, userID int64, newRole roles.Role) (*Membership, error) {
	if newRole == roles.RoleOwner {
		return nil, ErrCannotHaveMultipleOwners
	}
	if !roles.Valid(newRole) {
		return nil, ErrInvalidRole
	}
	return s.applyRoleChange(ctx, "change_role", orgID, userID, func(roles.Role) (roles.Role, error) {
		return newRole, nil
	})
}

// PromoteMember raises a member one rank in the hierarchy. Promotion into
// owner is rejected; the rank below owner is the ceiling. The current rank
// is read under the organization lock, so a concurrent role change cannot
// make the step land anywhere other than one rank above the committed role.
func (s *PostgresService) PromoteMember(ctx context.Context, orgID, userID int64) (*Membership, error) {
	return s.applyRoleChange(ctx, "promote_member", orgID, userID, func(current roles.Role) (roles.Role, error) {
		next, ok := adjacentRole(current, -1)
		if !ok {
			return "", ErrInvalidRole
		}
		if next == roles.RoleOwner {
			return "", ErrCannotHaveMultipleOwners
		}
		return next, nil
	})
}

// DemoteMember lowers a member one rank in the hierarchy. Demoting the
// owner is rejected, and the lowest rank is a no-op.
func (s *PostgresService) DemoteMember(ctx context.Context, orgID, userID int64) (*Membership, error) {
	return s.applyRoleChange(ctx, "demote_member", orgID, userID, func(current roles.Role) (roles.Role, error) {
		if current == roles.RoleOwner {
			return "", ErrCannotDemoteOwner
		}
		next, ok := adjacentRole(current, 1)
		if !ok {
			return current, nil
		}
		return next, nil
	})
}

// applyRoleChange runs a role transition where the target role is derived by
// resolve from the membership's current role, read fresh under the
// organization lock. A resolve result equal to the current role is a no-op
// and emits no event.
func (s *PostgresService) applyRoleChange(ctx context.Context, operation string, orgID, userID int64, resolve func(current roles.Role) (roles.Role, error)) (*Membership, error) {
	start := time.Now()
	membership, oldRole, changed, err := s.changeRole(ctx, orgID, userID, resolve)
	s.observe(operation, start, err)
	if err != nil {
		return nil, err
	}
	if !changed {
		return membership, nil
	}

	s.invalidateRole(ctx, orgID, userID)
	s.emit(ctx, events.ModeIsolated, &events.Context{
		Event:        events.EventRoleChanged,
		Organization: &Organization{ID: orgID},
		Membership:   membership,
		Role:         string(membership.Role),
		Metadata:     map[string]any{"previous_role": string(oldRole)},
	})
	if s.metrics != nil {
		s.metrics.RoleChangesTotal.Inc()
	}
	return membership, nil
}

func (s *PostgresService) changeRole(ctx context.Context, orgID, userID int64, resolve func(current roles.Role) (roles.Role, error)) (*Membership, roles.Role, bool, error) {
	var (
		membership *Membership
		oldRole    roles.Role
		changed    bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.lockOrganization(ctx, tx, orgID); err != nil {
			return err
		}
		m, err := s.getMembership(ctx, tx, orgID, userID, true)
		if err != nil {
			return err
		}
		if m == nil {
			return ErrMembershipNotFound
		}
		// The target is decided here, under the lock, never from any
		// earlier read.
		newRole, err := resolve(m.Role)
		if err != nil {
			return err
		}
		if m.Role == newRole {
			membership = m
			return nil
		}
		if m.Role == roles.RoleOwner {
			return ErrCannotDemoteOwner
		}
		oldRole = m.Role
		membership, err = scanMembership(tx.QueryRowContext(ctx, `
			UPDATE memberships
			SET role = $1, updated_at = NOW()
			WHERE id = $2
			RETURNING `+membershipColumns+`
		`, newRole, m.ID))
		if err != nil {
			return fmt.Errorf("failed to change role: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, "", false, err
	}
	return membership, oldRole, changed, nil
}

// adjacentRole returns the role offset steps away in the hierarchy
// (negative toward owner, positive toward viewer).
func adjacentRole(role roles.Role, offset int) (roles.Role, bool) {
	hierarchy := roles.Hierarchy()
	for i, r := range hierarchy {
		if r == role {
			j := i + offset
			if j < 0 || j >= len(hierarchy) {
				return "", false
			}
			return hierarchy[j], true
		}
	}
	return "", false
}

// TransferOwnership atomically demotes the current owner to admin and
// promotes the candidate to owner. This is the only path that ever sets or
// clears the owner role. Both membership rows are re-read fresh under the
// organization lock; a previously loaded snapshot is never trusted.
func (s *PostgresService) TransferOwnership(ctx context.Context, orgID, newOwnerUserID int64) error {
	start := time.Now()
	var oldOwner, newOwner *Membership
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.lockOrganization(ctx, tx, orgID); err != nil {
			return err
		}
		owner, err := s.ownerMembership(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if owner == nil {
			return ErrNoOwnerPresent
		}
		if owner.UserID == newOwnerUserID {
			// Transferring to the current owner keeps the current state.
			return nil
		}
		candidate, err := s.getMembership(ctx, tx, orgID, newOwnerUserID, false)
		if err != nil {
			return err
		}
		if candidate == nil {
			return ErrCannotTransferToNonMember
		}
		if !s.registry.AtLeast(candidate.Role, roles.RoleAdmin) {
			return ErrCannotTransferToNonAdmin
		}

		// Both rows locked in user-id order so two concurrent transfers
		// cannot deadlock each other.
		if err := s.lockMembershipPair(ctx, tx, orgID, owner.UserID, candidate.UserID); err != nil {
			return err
		}

		// Demote first so the partial unique owner index never sees two
		// owner rows inside the transaction.
		if _, err := tx.ExecContext(ctx, `
			UPDATE memberships SET role = $1, updated_at = NOW() WHERE id = $2
		`, roles.RoleAdmin, owner.ID); err != nil {
			return fmt.Errorf("failed to demote current owner: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE memberships SET role = $1, updated_at = NOW() WHERE id = $2
		`, roles.RoleOwner, candidate.ID); err != nil {
			return fmt.Errorf("failed to promote new owner: %w", err)
		}
		oldOwner, newOwner = owner, candidate
		return nil
	})
	s.observe("transfer_ownership", start, err)
	if err != nil {
		return err
	}
	if newOwner == nil {
		return nil
	}

	s.invalidateRole(ctx, orgID, oldOwner.UserID)
	s.invalidateRole(ctx, orgID, newOwner.UserID)
	s.emit(ctx, events.ModeIsolated, &events.Context{
		Event:        events.EventOwnershipTransferred,
		Organization: &Organization{ID: orgID},
		Membership:   newOwner,
		Role:         string(roles.RoleOwner),
		Metadata: map[string]any{
			"previous_owner_id": oldOwner.UserID,
			"new_owner_id":      newOwner.UserID,
		},
	})
	if s.metrics != nil {
		s.metrics.OwnershipTransfersTotal.Inc()
	}
	return nil
}

// lockMembershipPair locks two membership rows in ascending user-id order
func (s *PostgresService) lockMembershipPair(ctx context.Context, tx *sql.Tx, orgID, userA, userB int64) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM memberships
		WHERE organization_id = $1 AND user_id IN ($2, $3)
		ORDER BY user_id ASC
		FOR UPDATE
	`, orgID, userA, userB)
	if err != nil {
		return fmt.Errorf("failed to lock membership rows: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to lock membership rows: %w", err)
		}
	}
	return rows.Err()
}

// LeaveOrganization removes the caller's own membership. The owner must
// transfer ownership first, and when the configuration requires every user
// to belong to an organization, the last membership cannot be left. Both
// checks run after the organization lock is held.
func (s *PostgresService) LeaveOrganization(ctx context.Context, userID, orgID int64) error {
	start := time.Now()
	var left *Membership
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.lockOrganization(ctx, tx, orgID); err != nil {
			return err
		}
		m, err := s.getMembership(ctx, tx, orgID, userID, true)
		if err != nil {
			return err
		}
		if m == nil {
			return ErrNotAMember
		}
		// One owner per organization means the owner is always the last
		// owner; re-checked under the lock.
		if m.Role == roles.RoleOwner {
			return ErrCannotLeaveAsLastOwner
		}
		if s.cfg.RequireOrganizationMembership {
			var count int
			if err := tx.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM memberships WHERE user_id = $1
			`, userID).Scan(&count); err != nil {
				return fmt.Errorf("failed to count memberships: %w", err)
			}
			if count <= 1 {
				return ErrCannotLeaveLastOrganization
			}
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM memberships WHERE id = $1
		`, m.ID); err != nil {
			return fmt.Errorf("failed to leave organization: %w", err)
		}
		left = m
		return nil
	})
	s.observe("leave_organization", start, err)
	if err != nil {
		return err
	}

	s.invalidateRole(ctx, orgID, userID)
	s.emit(ctx, events.ModeIsolated, &events.Context{
		Event:        events.EventMemberLeft,
		Organization: &Organization{ID: orgID},
		Membership:   left,
		Role:         string(left.Role),
	})
	if s.metrics != nil {
		s.metrics.MembershipsRemovedTotal.Inc()
	}
	return nil
}
