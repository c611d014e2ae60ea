// Package audit persists a trail of membership lifecycle events.
//
// Recorder stores one row per dispatched event in the audit_events table.
// It plugs into the event dispatcher as a listener, so registering it on
// the events an application cares about is all the wiring needed:
//
//	recorder := audit.NewRecorder(db)
//	for _, event := range audit.RecordedEvents() {
//		dispatcher.Register(event, recorder.Listener())
//	}
//
// Registered in isolated mode a recording failure never fails the
// operation that produced the event.
package audit
