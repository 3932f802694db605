// Package vad provides energy-based voice activity detection on decoded call audio.
// It smooths per-frame RMS energy against a threshold and reports speech onsets,
// which the audio bridge uses to detect a caller talking over the assistant.
package vad
