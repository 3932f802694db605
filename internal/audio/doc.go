// Package audio handles call audio framing.
// It implements a sequence-ordered jitter buffer with loss and resync accounting,
// and G.711 mu-law conversion for the 8 kHz telephony streams.
package audio
