// Package orgs implements the multi-tenancy authorization core: organizations,
// role-bearing memberships, and email-based invitations.
//
// # Invariants
//
// The package enforces, under arbitrary concurrent callers:
//
//   - a user holds at most one membership per organization
//   - every committed organization has exactly one owner membership
//   - the owner role is set and cleared only by TransferOwnership
//   - at most one non-accepted invitation exists per (organization, email)
//
// Correctness relies on database row locks and unique constraints rather
// than in-process locking. Multi-row mutations run in one transaction with
// locks acquired organization-first, then specific membership or invitation
// rows, so two concurrent multi-row operations cannot deadlock. Every
// check-then-act decision is re-evaluated after the lock is held, and every
// idempotent insert path resolves a unique-constraint race by re-reading the
// winning row instead of erroring.
//
// # Collaborators
//
// The caller supplies an opaque user identity (User), an optional Directory
// for email lookups, and an optional Sender for invitation delivery.
// Lifecycle events are raised through pkg/events; only the pre-write
// member_invited event dispatches strictly and can veto an invite.
//
// # Usage Example
//
//	service := orgs.NewPostgresService(db, cfg, registry, dispatcher,
//		orgs.WithSender(mailSender),
//		orgs.WithDirectory(userDirectory),
//	)
//
//	org, owner, err := service.CreateOrganization(ctx, user, "Acme")
//	inv, err := service.SendInvite(ctx, org.ID, "a@example.com", user, roles.RoleAdmin)
//	membership, err := service.AcceptInvitation(ctx, inv.Token, invitee, orgs.AcceptOptions{})
//
// # Related Packages
//
//   - pkg/roles: role hierarchy and permission resolution
//   - pkg/events: lifecycle event dispatch
//   - pkg/storage/postgres: schema migrations and the shared Redis cache
package orgs
