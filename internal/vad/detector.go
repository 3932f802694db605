package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// fullScaleEnergy is the RMS level treated as certain speech
const fullScaleEnergy = 10000.0

// Detector tracks voice activity across consecutive audio frames
type Detector struct {
	threshold       float32
	smoothing       float32 // weight of the newest frame
	minSpeechFrames int     // consecutive voiced frames before an onset

	lastResult   float32
	voicedStreak int
	inSpeech     bool

	// Statistics
	totalFrames   uint64
	voiceFrames   uint64
	onsets        uint64
	lastProcessed time.Time

	mu sync.Mutex
}

// Result represents the voice activity decision for one frame
type Result struct {
	Probability float32 `json:"probability"` // Smoothed voice probability (0.0 - 1.0)
	HasVoice    bool    `json:"has_voice"`
	Onset       bool    `json:"onset"` // First frame of a confirmed speech segment
}

// DetectorStats represents detector statistics
type DetectorStats struct {
	TotalFrames     uint64    `json:"total_frames"`
	VoiceFrames     uint64    `json:"voice_frames"`
	Onsets          uint64    `json:"onsets"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
}

// NewDetector creates a new detector
func NewDetector(threshold, smoothing float32, minSpeechFrames int) (*Detector, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if smoothing <= 0 || smoothing > 1 {
		return nil, fmt.Errorf("smoothing must be in (0, 1], got %f", smoothing)
	}

	if minSpeechFrames < 1 {
		return nil, fmt.Errorf("min speech frames must be positive, got %d", minSpeechFrames)
	}

	return &Detector{
		threshold:       threshold,
		smoothing:       smoothing,
		minSpeechFrames: minSpeechFrames,
	}, nil
}

// Process evaluates one frame of PCM samples
func (d *Detector) Process(samples []int16) Result {
	probability := energy(samples)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.totalFrames > 0 {
		probability = d.smoothing*probability + (1-d.smoothing)*d.lastResult
	}
	d.lastResult = probability

	hasVoice := probability >= d.threshold

	d.totalFrames++
	d.lastProcessed = time.Now()

	onset := false
	if hasVoice {
		d.voiceFrames++
		d.voicedStreak++
		if !d.inSpeech && d.voicedStreak >= d.minSpeechFrames {
			d.inSpeech = true
			d.onsets++
			onset = true
		}
	} else {
		d.voicedStreak = 0
		d.inSpeech = false
	}

	return Result{
		Probability: probability,
		HasVoice:    hasVoice,
		Onset:       onset,
	}
}

// energy returns the normalised RMS energy of samples
func energy(samples []int16) float32 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}
	rms := math.Sqrt(sum / float64(len(samples)))

	normalized := rms / fullScaleEnergy
	if normalized > 1.0 {
		normalized = 1.0
	}

	return float32(normalized)
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() DetectorStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	voicePercentage := float64(0)
	if d.totalFrames > 0 {
		voicePercentage = float64(d.voiceFrames) / float64(d.totalFrames) * 100
	}

	return DetectorStats{
		TotalFrames:     d.totalFrames,
		VoiceFrames:     d.voiceFrames,
		Onsets:          d.onsets,
		VoicePercentage: voicePercentage,
		LastProcessed:   d.lastProcessed,
		Threshold:       d.threshold,
	}
}

// UpdateThreshold updates the voice detection threshold
func (d *Detector) UpdateThreshold(threshold float32) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.threshold = threshold
	return nil
}

// Reset clears speech state and statistics
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalFrames = 0
	d.voiceFrames = 0
	d.onsets = 0
	d.lastResult = 0
	d.voicedStreak = 0
	d.inSpeech = false
	d.lastProcessed = time.Time{}
}
