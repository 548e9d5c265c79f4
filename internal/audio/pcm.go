// Package audio holds the PCM plumbing shared by the speech adapters:
// sample conversion, μ-law coding, framing and voice activity detection.
// All linear audio is 16-bit signed little-endian mono.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// BytesPerSample is the width of one 16-bit PCM sample.
const BytesPerSample = 2

// Encoding names an output sample format.
type Encoding string

const (
	EncodingPCM   Encoding = "pcm"
	EncodingMulaw Encoding = "mulaw"
)

// ParseEncoding validates an encoding name.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case EncodingPCM, EncodingMulaw:
		return Encoding(s), nil
	default:
		return "", fmt.Errorf("unsupported audio encoding %q", s)
	}
}

// BytesPerSecond returns the byte rate of enc at sampleRate.
func (e Encoding) BytesPerSecond(sampleRate int) int {
	if e == EncodingMulaw {
		return sampleRate
	}
	return sampleRate * BytesPerSample
}

// DecodePCM16 converts little-endian bytes to samples.
func DecodePCM16(data []byte) ([]int16, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("PCM data length must be even, got %d bytes", len(data))
	}
	samples := make([]int16, len(data)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
	}
	return samples, nil
}

// EncodePCM16 converts samples to little-endian bytes.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

// Resample converts between sample rates by linear interpolation.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(toRate) / float64(fromRate)
	out := make([]int16, int(float64(len(samples))*ratio))
	last := len(samples) - 1

	for i := range out {
		pos := float64(i) / ratio
		lo := int(pos)
		if lo > last {
			lo = last
		}
		hi := lo + 1
		if hi > last {
			hi = last
		}
		frac := pos - float64(lo)
		out[i] = int16(float64(samples[lo])*(1-frac) + float64(samples[hi])*frac)
	}
	return out
}

// ApplyGain scales samples by gain, clipping at the int16 range.
// A gain of 1 returns the input unchanged.
func ApplyGain(samples []int16, gain float64) []int16 {
	if gain == 1 {
		return samples
	}
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * gain)
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}

// RMS returns the root mean square level of samples.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Duration returns the playback time of n bytes of enc audio.
func Duration(n int, enc Encoding, sampleRate int) time.Duration {
	bps := enc.BytesPerSecond(sampleRate)
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Transcode turns linear PCM at inRate into enc at outRate with gain applied.
func Transcode(pcm []byte, inRate, outRate int, enc Encoding, gain float64) ([]byte, error) {
	samples, err := DecodePCM16(pcm)
	if err != nil {
		return nil, err
	}
	samples = ApplyGain(Resample(samples, inRate, outRate), gain)

	switch enc {
	case EncodingMulaw:
		return EncodeMulaw(samples), nil
	case EncodingPCM:
		return EncodePCM16(samples), nil
	default:
		return nil, fmt.Errorf("unsupported audio encoding %q", enc)
	}
}
