// Package call runs live call sessions and keeps the registry of them.
//
// A Session moves through Ringing, Greeting, Identifying, Conversing and
// ToolPending, then Closing and Ended. Engine events, tool results, hangups
// and timers are posted to one serial loop per session, which owns the
// state, the participant and the recorder. Every session ends through a
// single teardown that closes the bridge, cancels outstanding tool calls,
// seals the recorder and hands the snapshot to the post-call pipeline.
//
// The Manager registers sessions on call intake, attaches media streams to
// them and reaps calls whose stream never arrived.
package call
