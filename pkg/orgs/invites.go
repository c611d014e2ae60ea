package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/meridianhq/tenancy/pkg/async"
	"github.com/meridianhq/tenancy/pkg/events"
	"github.com/meridianhq/tenancy/pkg/roles"
)

const invitationColumns = `id, organization_id, email, token, role, invited_by, accepted_at, expires_at, created_at`

// scanInvitation scans one invitation row
func scanInvitation(scanner interface{ Scan(dest ...any) error }) (*Invitation, error) {
	inv := &Invitation{}
	var invitedBy sql.NullInt64
	var acceptedAt, expiresAt sql.NullTime
	if err := scanner.Scan(
		&inv.ID, &inv.OrganizationID, &inv.Email, &inv.Token, &inv.Role,
		&invitedBy, &acceptedAt, &expiresAt, &inv.CreatedAt,
	); err != nil {
		return nil, err
	}
	if invitedBy.Valid {
		id := invitedBy.Int64
		inv.InvitedBy = &id
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		inv.AcceptedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		inv.ExpiresAt = &t
	}
	return inv, nil
}

// SendInvite issues an invitation for an email address to join an
// organization. The inviter must be a member holding the invite permission.
// The call is idempotent per (organization, email): an existing pending
// invitation is returned unchanged, and an expired one is refreshed in
// place with a new token and expiry. A member_invited listener registered in
// strict mode can veto the invitation before anything is written.
func (s *PostgresService) SendInvite(ctx context.Context, orgID int64, email string, invitedBy User, role roles.Role) (*Invitation, error) {
	start := time.Now()
	invitation, issued, err := s.sendInvite(ctx, orgID, email, invitedBy, role)
	s.observe("send_invite", start, err)
	if err != nil {
		return nil, err
	}

	if issued {
		if s.metrics != nil {
			s.metrics.InvitationsSentTotal.Inc()
		}
		s.deliver(ctx, invitation)
	}
	return invitation, nil
}

func (s *PostgresService) sendInvite(ctx context.Context, orgID int64, email string, invitedBy User, role roles.Role) (*Invitation, bool, error) {
	email = NormalizeEmail(email)
	if role == "" {
		role = s.cfg.DefaultInvitationRole
	}

	// The inviter is authorized before anything about the request itself is
	// judged; a non-member learns nothing beyond ErrNotAMember.
	inviterRole, isMember, err := s.memberRole(ctx, orgID, invitedBy.ID)
	if err != nil {
		return nil, false, err
	}
	if !isMember {
		return nil, false, ErrNotAMember
	}
	if !s.registry.HasPermission(inviterRole, roles.PermissionInviteMembers) {
		return nil, false, ErrNotAuthorized
	}

	if role == roles.RoleOwner {
		return nil, false, ErrCannotInviteAsOwner
	}
	if !roles.Valid(role) {
		return nil, false, ErrInvalidRole
	}

	existing, err := s.invitationForEmail(ctx, s.db, orgID, email, false)
	if err != nil {
		return nil, false, err
	}
	if existing != nil && existing.Status() == InvitationPending {
		return existing, false, nil
	}

	// Reject addresses that already belong to members when the host
	// application wired a directory.
	if s.directory != nil {
		user, found, err := s.directory.ByEmail(ctx, email)
		if err != nil {
			return nil, false, fmt.Errorf("failed to look up email: %w", err)
		}
		if found {
			m, err := s.getMembership(ctx, s.db, orgID, user.ID, false)
			if err != nil {
				return nil, false, err
			}
			if m != nil {
				return nil, false, ErrAlreadyAMember
			}
		}
	}

	org, err := s.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, false, err
	}

	// Strict dispatch before any write: a listener veto leaves no trace.
	if err := s.emit(ctx, events.ModeStrict, &events.Context{
		Event:        events.EventMemberInvited,
		Organization: org,
		User:         &invitedBy,
		Role:         string(role),
		Metadata:     map[string]any{"email": email},
	}); err != nil {
		return nil, false, err
	}

	token, err := newToken()
	if err != nil {
		return nil, false, err
	}
	var expiresAt *time.Time
	if s.cfg.InvitationExpiry != nil {
		t := time.Now().UTC().Add(*s.cfg.InvitationExpiry)
		expiresAt = &t
	}

	var invitation *Invitation
	if existing != nil {
		// Expired invitation for the same address: refresh it in place so
		// the partial unique index never sees a second open row.
		invitation, err = scanInvitation(s.db.QueryRowContext(ctx, `
			UPDATE invitations
			SET token = $1, role = $2, invited_by = $3, expires_at = $4, created_at = NOW()
			WHERE id = $5 AND accepted_at IS NULL
			RETURNING `+invitationColumns+`
		`, token, role, invitedBy.ID, expiresAt, existing.ID))
		if err == sql.ErrNoRows {
			// Accepted between our read and the update; the membership path
			// owns it now.
			return nil, false, ErrAlreadyAMember
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to refresh invitation: %w", err)
		}
		return invitation, true, nil
	}

	invitation, err = scanInvitation(s.db.QueryRowContext(ctx, `
		INSERT INTO invitations (organization_id, email, token, role, invited_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+invitationColumns+`
	`, orgID, email, token, role, invitedBy.ID, expiresAt))
	if err != nil {
		// A concurrent SendInvite for the same address won the open-row
		// index; return the pending invitation it created.
		if isUniqueViolation(err, "") {
			winner, readErr := s.invitationForEmail(ctx, s.db, orgID, email, false)
			if readErr == nil && winner != nil {
				return winner, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to create invitation: %w", err)
	}
	return invitation, true, nil
}

// deliver hands the invitation to the sender off the write path. Delivery
// failures are logged, never surfaced to the caller.
func (s *PostgresService) deliver(ctx context.Context, invitation *Invitation) {
	if s.sender == nil {
		return
	}
	inv := *invitation
	async.SafeGo(ctx, s.logger, s.cfg.DeliveryTimeout, "invitation_delivery", func(ctx context.Context) error {
		org, err := s.GetOrganization(ctx, inv.OrganizationID)
		if err != nil {
			return err
		}
		return s.sender.SendInvitation(ctx, &inv, org)
	})
}

// AcceptInvitation redeems a token and creates the membership it promises.
// Acceptance is atomic with membership creation, and re-accepting an already
// accepted invitation as the same user returns the existing membership.
func (s *PostgresService) AcceptInvitation(ctx context.Context, token string, user *User, opts AcceptOptions) (*Membership, error) {
	start := time.Now()
	membership, joined, err := s.acceptInvitation(ctx, token, user, opts)
	s.observe("accept_invitation", start, err)
	if err != nil {
		return nil, err
	}

	if joined != nil {
		s.emit(ctx, events.ModeIsolated, &events.Context{
			Event:        events.EventMemberJoined,
			Organization: &Organization{ID: joined.OrganizationID},
			User:         user,
			Membership:   membership,
			Invitation:   joined,
			Role:         string(membership.Role),
		})
		if s.metrics != nil {
			s.metrics.InvitationsAcceptedTotal.Inc()
			s.metrics.MembershipsCreatedTotal.WithLabelValues("invitation").Inc()
		}
	}
	return membership, nil
}

func (s *PostgresService) acceptInvitation(ctx context.Context, token string, user *User, opts AcceptOptions) (*Membership, *Invitation, error) {
	if user == nil {
		return nil, nil, ErrUserRequired
	}

	// Plain read first to learn the organization, so the lock order inside
	// the transaction stays organization first.
	probe, err := s.getInvitationByToken(ctx, s.db, token, false)
	if err != nil {
		return nil, nil, err
	}
	if probe == nil {
		return nil, nil, ErrInvitationNotFound
	}
	if !opts.SkipEmailCheck && NormalizeEmail(user.Email) != probe.Email {
		return nil, nil, ErrEmailMismatch
	}

	var (
		membership *Membership
		accepted   *Invitation
	)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.lockOrganization(ctx, tx, probe.OrganizationID); err != nil {
			return err
		}
		inv, err := s.getInvitationByToken(ctx, tx, token, true)
		if err != nil {
			return err
		}
		if inv == nil {
			return ErrInvitationNotFound
		}
		// State re-derived under the lock; the probe is stale by now.
		switch inv.Status() {
		case InvitationAccepted:
			existing, err := s.getMembership(ctx, tx, inv.OrganizationID, user.ID, false)
			if err != nil {
				return err
			}
			if existing != nil {
				membership = existing
				return nil
			}
			return ErrInvitationAlreadyAccepted
		case InvitationExpired:
			return ErrInvitationExpired
		}
		if inv.Role == roles.RoleOwner {
			return ErrCannotAcceptAsOwner
		}

		existing, err := s.getMembership(ctx, tx, inv.OrganizationID, user.ID, false)
		if err != nil {
			return err
		}
		if existing == nil {
			if err := s.checkOrganizationLimit(ctx, tx, user.ID); err != nil {
				return err
			}
			existing, err = s.insertMembership(ctx, tx, inv.OrganizationID, user.ID, inv.Role, inv.InvitedBy)
			if err != nil {
				return fmt.Errorf("failed to create membership: %w", err)
			}
			accepted = inv
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE invitations SET accepted_at = NOW() WHERE id = $1
		`, inv.ID); err != nil {
			return fmt.Errorf("failed to mark invitation accepted: %w", err)
		}
		membership = existing
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return membership, accepted, nil
}

// ResendInvitation rotates the token and expiry of an open invitation and
// redelivers it. The old token stops working the moment the new one exists.
func (s *PostgresService) ResendInvitation(ctx context.Context, invitationID int64) (*Invitation, error) {
	start := time.Now()
	var invitation *Invitation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		inv, err := scanInvitation(tx.QueryRowContext(ctx, `
			SELECT `+invitationColumns+`
			FROM invitations
			WHERE id = $1
			FOR UPDATE
		`, invitationID))
		if err == sql.ErrNoRows {
			return ErrInvitationNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get invitation: %w", err)
		}
		if inv.AcceptedAt != nil {
			return ErrInvitationAlreadyAccepted
		}

		token, err := newToken()
		if err != nil {
			return err
		}
		var expiresAt *time.Time
		if s.cfg.InvitationExpiry != nil {
			t := time.Now().UTC().Add(*s.cfg.InvitationExpiry)
			expiresAt = &t
		}
		invitation, err = scanInvitation(tx.QueryRowContext(ctx, `
			UPDATE invitations
			SET token = $1, expires_at = $2
			WHERE id = $3
			RETURNING `+invitationColumns+`
		`, token, expiresAt, inv.ID))
		if err != nil {
			return fmt.Errorf("failed to refresh invitation: %w", err)
		}
		return nil
	})
	s.observe("resend_invitation", start, err)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.InvitationsResentTotal.Inc()
	}
	s.deliver(ctx, invitation)
	return invitation, nil
}

// GetInvitation retrieves an invitation by its token
func (s *PostgresService) GetInvitation(ctx context.Context, token string) (*Invitation, error) {
	inv, err := s.getInvitationByToken(ctx, s.db, token, false)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ErrInvitationNotFound
	}
	return inv, nil
}

func (s *PostgresService) getInvitationByToken(ctx context.Context, q querier, token string, forUpdate bool) (*Invitation, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM invitations
		WHERE token = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	inv, err := scanInvitation(q.QueryRowContext(ctx, query, token))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// InvitationForEmail retrieves the open invitation for an email address in
// an organization, if one exists.
func (s *PostgresService) InvitationForEmail(ctx context.Context, orgID int64, email string) (*Invitation, error) {
	inv, err := s.invitationForEmail(ctx, s.db, orgID, NormalizeEmail(email), false)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ErrInvitationNotFound
	}
	return inv, nil
}

// invitationForEmail reads the open (not yet accepted) invitation for
// (org, email), or nil when none exists. The partial unique index guarantees
// at most one such row.
func (s *PostgresService) invitationForEmail(ctx context.Context, q querier, orgID int64, email string, forUpdate bool) (*Invitation, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM invitations
		WHERE organization_id = $1 AND lower(email) = $2 AND accepted_at IS NULL
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	inv, err := scanInvitation(q.QueryRowContext(ctx, query, orgID, email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// ListInvitations retrieves all invitations of an organization, newest first
func (s *PostgresService) ListInvitations(ctx context.Context, orgID int64) ([]*Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// CleanupExpiredInvitations deletes invitations whose expiry has passed
// without acceptance and returns how many were removed. Run periodically by
// the sweeper; expired rows are inert either way, since status is derived
// from timestamps on every read.
func (s *PostgresService) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM invitations
		WHERE accepted_at IS NULL AND expires_at IS NOT NULL AND expires_at <= NOW()
	`)
	s.observe("cleanup_expired_invitations", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up expired invitations: %w", err)
	}
	swept, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept invitations: %w", err)
	}
	if s.metrics != nil && swept > 0 {
		s.metrics.InvitationsSweptTotal.Add(float64(swept))
	}
	return swept, nil
}
