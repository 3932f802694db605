package audio

import "time"

// MuLawByteDuration is the playback time of one mu-law byte at 8 kHz
const MuLawByteDuration = 125 * time.Microsecond

// MuLawToLinear decodes one G.711 mu-law byte to a 16-bit PCM sample
func MuLawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := u & 0x0F
	value := (int(mant) << 3) + 0x84
	value <<= uint(exp)
	value -= 0x84
	if sign != 0 {
		return int16(-value)
	}
	return int16(value)
}

// LinearToMuLaw encodes a 16-bit PCM sample as G.711 mu-law
func LinearToMuLaw(sample int16) byte {
	const bias = 0x84
	const clip = 32635

	s := int(sample)
	sign := 0
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > clip {
		s = clip
	}
	s += bias

	exp := 7
	for mask := 0x4000; s&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := (s >> (uint(exp) + 3)) & 0x0F

	return ^byte(sign | exp<<4 | mant)
}

// DecodeMuLaw converts a mu-law payload to PCM samples
func DecodeMuLaw(payload []byte) []int16 {
	samples := make([]int16, len(payload))
	for i, b := range payload {
		samples[i] = MuLawToLinear(b)
	}
	return samples
}

// EncodeMuLaw converts PCM samples to a mu-law payload
func EncodeMuLaw(samples []int16) []byte {
	payload := make([]byte, len(samples))
	for i, s := range samples {
		payload[i] = LinearToMuLaw(s)
	}
	return payload
}
