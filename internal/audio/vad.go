package audio

import "time"

// VADConfig holds configuration for utterance detection.
type VADConfig struct {
	EnergyThreshold float64       // RMS level above which a frame counts as speech
	SilenceFrames   int           // consecutive quiet frames that end an utterance
	SampleRate      int           // input sample rate in Hz
	FrameDuration   time.Duration // length of one analysed frame
}

// DefaultVADConfig returns 20ms frames at 16kHz ending an utterance after
// 800ms of silence.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   40,
		SampleRate:      16000,
		FrameDuration:   20 * time.Millisecond,
	}
}

// FrameBytes returns the byte length of one PCM16 frame.
func (c VADConfig) FrameBytes() int {
	samples := int(int64(c.SampleRate) * int64(c.FrameDuration) / int64(time.Second))
	return samples * BytesPerSample
}

// VADEvent is the boundary detected on a frame, if any.
type VADEvent int

const (
	VADNone VADEvent = iota
	VADSpeechStart
	VADSpeechEnd
)

func (e VADEvent) String() string {
	switch e {
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechEnd:
		return "speech_end"
	default:
		return "none"
	}
}

// VADDetector tracks speech boundaries across consecutive frames.
type VADDetector struct {
	config     VADConfig
	silence    int
	speaking   bool
	heardVoice bool
}

// NewVADDetector creates a detector.
func NewVADDetector(config VADConfig) *VADDetector {
	if config.SilenceFrames <= 0 {
		config.SilenceFrames = DefaultVADConfig().SilenceFrames
	}
	return &VADDetector{config: config}
}

// Process analyses one PCM16 frame.
func (v *VADDetector) Process(frame []byte) VADEvent {
	samples, err := DecodePCM16(frame)
	if err != nil {
		return VADNone
	}

	if RMS(samples) > v.config.EnergyThreshold {
		v.silence = 0
		v.heardVoice = true
		if !v.speaking {
			v.speaking = true
			return VADSpeechStart
		}
		return VADNone
	}

	if v.speaking {
		v.silence++
		if v.silence >= v.config.SilenceFrames {
			v.speaking = false
			v.silence = 0
			return VADSpeechEnd
		}
	}
	return VADNone
}

// Speaking reports whether the current frame is inside an utterance.
func (v *VADDetector) Speaking() bool {
	return v.speaking
}

// HeardSpeech reports whether any speech was seen since the last Reset.
func (v *VADDetector) HeardSpeech() bool {
	return v.heardVoice
}

// Reset forgets all state.
func (v *VADDetector) Reset() {
	v.silence = 0
	v.speaking = false
	v.heardVoice = false
}
