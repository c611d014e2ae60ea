// Package async provides a safe wrapper for fire-and-forget goroutines.
//
// The core's write paths must never block on, or fail because of,
// best-effort side work such as invitation delivery. SafeGo runs such work
// on its own goroutine with a bounded timeout, panic recovery, and error
// logging, so a slow or broken collaborator cannot leak goroutines or crash
// the process.
package async
