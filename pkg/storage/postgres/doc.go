// Package postgres provides the PostgreSQL plumbing shared by every
// deployment: connection setup with pool tuning, ordered schema
// migrations, and the Redis-backed membership role cache used when
// multiple instances share one database.
//
// The schema carries the structural invariants as constraints. A partial
// unique index keeps an organization at exactly one owner row, a second
// one keeps each address at a single open invitation per organization,
// and UNIQUE(user_id, organization_id) backs idempotent member adds. The
// service layer treats these as the last line of defense behind its row
// locks, not as the primary mechanism.
package postgres
