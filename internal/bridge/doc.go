// Package bridge moves call audio between the telephony stream and the AI engine.
// Each direction has its own jitter buffer and pump; outbound playback can be
// interrupted per response, and inbound speech over playback raises a barge-in.
package bridge
