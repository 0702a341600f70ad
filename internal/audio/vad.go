package audio

// VADConfig holds configuration for energy-based voice activity detection.
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // consecutive silent frames that end a speech segment
	FrameDuration   int     // frame length in milliseconds
	MinSpeechFrames int     // speech frames required before a recording counts as speech
}

// DefaultVADConfig returns a configuration tuned for 16-bit desktop microphones.
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10,
		FrameDuration:   20,
		MinSpeechFrames: 5, // 100ms
	}
}

// VADDetector tracks speech segments across consecutive frames.
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
	speechFrames   int
}

// NewVADDetector creates a new detector. A nil config uses DefaultVADConfig.
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config}
}

// ProcessFrame processes one frame of samples.
// Returns: (isSpeaking, speechStarted, speechEnded)
func (v *VADDetector) ProcessFrame(samples []int16) (bool, bool, bool) {
	frameHasSpeech := CalculateRMS(samples) > v.config.EnergyThreshold

	var speechStarted, speechEnded bool

	if frameHasSpeech {
		v.silenceCounter = 0
		v.speechFrames++
		if !v.isSpeaking {
			speechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// SpeechFrames returns the number of frames classified as speech so far.
func (v *VADDetector) SpeechFrames() int {
	return v.speechFrames
}

// Reset clears detector state.
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
	v.speechFrames = 0
}

// DetectSpeech reports whether a complete recording contains enough speech
// energy to be worth sending to a recognizer.
func DetectSpeech(pcm []byte, format Format, config *VADConfig) bool {
	if config == nil {
		config = DefaultVADConfig()
	}
	samples, err := BytesToSamples(pcm)
	if err != nil || len(samples) == 0 {
		return false
	}

	frameSize := format.SampleRate * format.Channels * config.FrameDuration / 1000
	if frameSize <= 0 {
		frameSize = len(samples)
	}

	detector := NewVADDetector(config)
	for start := 0; start < len(samples); start += frameSize {
		end := start + frameSize
		if end > len(samples) {
			end = len(samples)
		}
		detector.ProcessFrame(samples[start:end])
		if detector.SpeechFrames() >= config.MinSpeechFrames {
			return true
		}
	}
	return false
}
