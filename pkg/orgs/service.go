package orgs

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/meridianhq/tenancy/pkg/config"
	"github.com/meridianhq/tenancy/pkg/events"
	"github.com/meridianhq/tenancy/pkg/observability"
	"github.com/meridianhq/tenancy/pkg/roles"
)

// Service defines the operation-level API of the tenancy core
type Service interface {
	// Organization lifecycle
	CreateOrganization(ctx context.Context, owner User, name string) (*Organization, *Membership, error)
	GetOrganization(ctx context.Context, id int64) (*Organization, error)

	// Member management
	ListMembers(ctx context.Context, orgID int64) ([]*Membership, error)
	GetMember(ctx context.Context, orgID, userID int64) (*Membership, error)
	AddMember(ctx context.Context, orgID int64, user User, role roles.Role) (*Membership, error)
	RemoveMember(ctx context.Context, orgID, userID int64) error
	ChangeRole(ctx context.Context, orgID, userID int64, newRole roles.Role) (*Membership, error)
	PromoteMember(ctx context.Context, orgID, userID int64) (*Membership, error)
	DemoteMember(ctx context.Context, orgID, userID int64) (*Membership, error)
	TransferOwnership(ctx context.Context, orgID, newOwnerUserID int64) error
	LeaveOrganization(ctx context.Context, userID, orgID int64) error

	// Invitation lifecycle
	SendInvite(ctx context.Context, orgID int64, email string, invitedBy User, role roles.Role) (*Invitation, error)
	AcceptInvitation(ctx context.Context, token string, user *User, opts AcceptOptions) (*Membership, error)
	ResendInvitation(ctx context.Context, invitationID int64) (*Invitation, error)
	GetInvitation(ctx context.Context, token string) (*Invitation, error)
	InvitationForEmail(ctx context.Context, orgID int64, email string) (*Invitation, error)
	ListInvitations(ctx context.Context, orgID int64) ([]*Invitation, error)
	CleanupExpiredInvitations(ctx context.Context) (int64, error)
}

// PostgresService implements Service against PostgreSQL. All invariants are
// enforced with row locks and unique constraints, so any number of instances
// can run against the same database.
type PostgresService struct {
	db         *sql.DB
	cfg        *config.Config
	registry   *roles.Registry
	dispatcher *events.Dispatcher
	sender     Sender
	directory  Directory
	cache      RoleCache
	metrics    *observability.Metrics
	logger     *observability.Logger
}

// Option configures optional collaborators on the service
type Option func(*PostgresService)

// WithSender installs the invitation delivery collaborator
func WithSender(sender Sender) Option {
	return func(s *PostgresService) { s.sender = sender }
}

// WithDirectory installs the identity directory used for invite email checks
func WithDirectory(directory Directory) Option {
	return func(s *PostgresService) { s.directory = directory }
}

// WithRoleCache installs a membership role cache for authorization lookups
func WithRoleCache(cache RoleCache) Option {
	return func(s *PostgresService) { s.cache = cache }
}

// WithMetrics installs operation metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *PostgresService) { s.metrics = metrics }
}

// WithLogger replaces the default logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *PostgresService) { s.logger = logger }
}

// NewPostgresService creates the service. cfg, registry, and dispatcher may
// be nil, in which case validated defaults are used.
func NewPostgresService(db *sql.DB, cfg *config.Config, registry *roles.Registry, dispatcher *events.Dispatcher, opts ...Option) *PostgresService {
	if cfg == nil {
		cfg = config.Default()
	}
	if registry == nil {
		registry = roles.NewRegistry()
	}
	s := &PostgresService{
		db:       db,
		cfg:      cfg,
		registry: registry,
		logger:   observability.NewLogger(cfg.LogLevel, nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dispatcher = dispatcher
	if s.dispatcher == nil {
		s.dispatcher = events.NewDispatcher(s.logger)
		s.dispatcher.SetMetrics(s.metrics)
	}
	return s
}

// Registry exposes the role registry backing permission checks
func (s *PostgresService) Registry() *roles.Registry {
	return s.registry
}

// CreateOrganization creates an organization with the creator as its sole
// owner, in one transaction. A completed creation always leaves exactly one
// owner membership.
func (s *PostgresService) CreateOrganization(ctx context.Context, owner User, name string) (*Organization, *Membership, error) {
	start := time.Now()
	var (
		org        *Organization
		membership *Membership
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// The limit is checked inside the transaction so two concurrent
		// creations by the same user both see the final count.
		if err := s.checkOrganizationLimit(ctx, tx, owner.ID); err != nil {
			return err
		}

		org = &Organization{Name: name}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO organizations (name)
			VALUES ($1)
			RETURNING id, name, created_at, updated_at
		`, name).Scan(&org.ID, &org.Name, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return fmt.Errorf("failed to create organization: %w", err)
		}

		var err error
		membership, err = s.insertMembership(ctx, tx, org.ID, owner.ID, roles.RoleOwner, nil)
		if err != nil {
			return fmt.Errorf("failed to create owner membership: %w", err)
		}
		return nil
	})
	s.observe("create_organization", start, err)
	if err != nil {
		return nil, nil, err
	}

	s.emit(ctx, events.ModeIsolated, &events.Context{
		Event:        events.EventOrganizationCreated,
		Organization: org,
		User:         &owner,
		Membership:   membership,
		Role:         string(roles.RoleOwner),
	})
	if s.metrics != nil {
		s.metrics.MembershipsCreatedTotal.WithLabelValues("create_organization").Inc()
	}
	return org, membership, nil
}

// GetOrganization retrieves an organization by ID
func (s *PostgresService) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	org := &Organization{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`, id).Scan(&org.ID, &org.Name, &org.CreatedAt, &org.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// querier abstracts *sql.DB and *sql.Tx for read helpers
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// withTx runs fn inside a transaction, rolling back on error or panic.
func (s *PostgresService) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// lockOrganization takes the aggregate lock. Every multi-row mutation locks
// the organization first, establishing the lock order that makes deadlocks
// between concurrent multi-row operations impossible.
func (s *PostgresService) lockOrganization(ctx context.Context, tx *sql.Tx, orgID int64) error {
	var id int64
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM organizations WHERE id = $1 FOR UPDATE
	`, orgID).Scan(&id)
	if err == sql.ErrNoRows {
		return ErrOrganizationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock organization: %w", err)
	}
	return nil
}

const membershipColumns = `id, user_id, organization_id, role, invited_by, created_at, updated_at`

// scanMembership scans one membership row
func scanMembership(scanner interface{ Scan(dest ...any) error }) (*Membership, error) {
	m := &Membership{}
	var invitedBy sql.NullInt64
	if err := scanner.Scan(
		&m.ID, &m.UserID, &m.OrganizationID, &m.Role, &invitedBy, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if invitedBy.Valid {
		id := invitedBy.Int64
		m.InvitedBy = &id
	}
	return m, nil
}

// getMembership reads the membership for (org, user), or nil when absent.
// With forUpdate it takes the row lock; callers must already hold the
// organization lock in that case.
func (s *PostgresService) getMembership(ctx context.Context, q querier, orgID, userID int64, forUpdate bool) (*Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM memberships
		WHERE organization_id = $1 AND user_id = $2
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	m, err := scanMembership(q.QueryRowContext(ctx, query, orgID, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// ownerMembership reads the organization's owner row, or nil when none
// exists.
func (s *PostgresService) ownerMembership(ctx context.Context, q querier, orgID int64) (*Membership, error) {
	m, err := scanMembership(q.QueryRowContext(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE organization_id = $1 AND role = $2
	`, orgID, roles.RoleOwner))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get owner membership: %w", err)
	}
	return m, nil
}

// insertMembership inserts one membership row and returns it. Unique
// violations propagate for the caller to resolve.
func (s *PostgresService) insertMembership(ctx context.Context, q querier, orgID, userID int64, role roles.Role, invitedBy *int64) (*Membership, error) {
	return scanMembership(q.QueryRowContext(ctx, `
		INSERT INTO memberships (organization_id, user_id, role, invited_by)
		VALUES ($1, $2, $3, $4)
		RETURNING `+membershipColumns+`
	`, orgID, userID, role, invitedBy))
}

// checkOrganizationLimit enforces MaxOrganizationsPerUser before a user
// gains a membership in a new organization.
func (s *PostgresService) checkOrganizationLimit(ctx context.Context, q querier, userID int64) error {
	if s.cfg.MaxOrganizationsPerUser == nil {
		return nil
	}
	var count int
	if err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memberships WHERE user_id = $1
	`, userID).Scan(&count); err != nil {
		return fmt.Errorf("failed to count memberships: %w", err)
	}
	if count >= *s.cfg.MaxOrganizationsPerUser {
		return ErrOrganizationLimitReached
	}
	return nil
}

// memberRole resolves the caller's role in an organization for permission
// checks, consulting the cache first.
func (s *PostgresService) memberRole(ctx context.Context, orgID, userID int64) (roles.Role, bool, error) {
	if s.cache != nil {
		if role, ok := s.cache.Get(ctx, orgID, userID); ok {
			return role, true, nil
		}
	}
	m, err := s.getMembership(ctx, s.db, orgID, userID, false)
	if err != nil {
		return "", false, err
	}
	if m == nil {
		return "", false, nil
	}
	if s.cache != nil {
		s.cache.Set(ctx, orgID, userID, m.Role)
	}
	return m.Role, true, nil
}

// invalidateRole drops a cached role after any membership mutation
func (s *PostgresService) invalidateRole(ctx context.Context, orgID, userID int64) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, orgID, userID)
	}
}

// emit dispatches a lifecycle event. Isolated dispatch never returns an
// error; strict dispatch propagates listener vetoes.
func (s *PostgresService) emit(ctx context.Context, mode events.Mode, ec *events.Context) error {
	err := s.dispatcher.Dispatch(ctx, mode, ec)
	if s.metrics != nil {
		s.metrics.EventsDispatchedTotal.WithLabelValues(string(ec.Event), mode.String()).Inc()
	}
	return err
}

// observe records operation metrics when metrics are configured
func (s *PostgresService) observe(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveOperation(operation, start, err)
	if err != nil {
		s.metrics.OperationErrors.WithLabelValues(operation, errorKind(err)).Inc()
	}
}

// errorKind classifies an error for metrics labels
func errorKind(err error) string {
	switch {
	case IsAuthorizationError(err):
		return "authorization"
	case IsInvariantViolation(err):
		return "invariant"
	case IsInvitationStateError(err):
		return "invitation_state"
	default:
		return "other"
	}
}

// isUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation, optionally on a specific constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// newToken generates an unguessable invitation token
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
