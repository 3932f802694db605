// Package realtime is a websocket client for the conversational AI engine.
// It sends session configuration, caller audio, function outputs and response
// control events, and decodes the engine's server events for the call session.
package realtime
