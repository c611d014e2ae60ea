// Package events delivers membership lifecycle notifications to registered
// listeners.
//
// # Dispatch modes
//
// Listeners run synchronously on the caller's goroutine in one of two modes:
//
//   - ModeIsolated: listener errors and panics are logged and swallowed. A
//     misbehaving observability hook can never corrupt a write path. This is
//     the default for every post-commit notification.
//   - ModeStrict: listener errors propagate to the caller and abort the
//     triggering operation. Used only for pre-write veto points such as
//     member_invited seat-limit checks.
//
// One listener is registered per event; registering again replaces the
// previous listener.
//
// # Related Packages
//
//   - pkg/orgs: raises events from organization and invitation operations
//   - pkg/audit: a listener implementation persisting an audit trail
package events
