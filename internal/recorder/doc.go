// Package recorder keeps the append-only conversation log of a call.
//
// Turns and terminal tool invocations are numbered in arrival order. The
// log is sealed by Snapshot, which is taken once when the session ends and
// may be partial after a transport failure. Snapshot.Transcript renders the
// plain-text transcript fed to the summary generator.
package recorder
