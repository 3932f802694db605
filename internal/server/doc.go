// Package server implements the HTTP surface of the voice bot: the call
// webhook that answers with a media stream document, the media stream
// websocket endpoint that hands each stream to its call session, and the
// monitoring endpoints (/health, /calls, /stats, /config, /metrics).
package server
