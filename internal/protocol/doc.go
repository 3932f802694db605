// Package protocol implements the telephony media stream protocol.
// It decodes the JSON events of a bidirectional mu-law stream, builds the playAudio
// and clearAudio commands, renders the call-control XML that attaches a call to its
// stream, and wraps the websocket connection as a Stream.
package protocol
