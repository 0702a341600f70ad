package audio

import (
	"testing"
)

func tone(n int, amplitude int16) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amplitude
		} else {
			samples[i] = -amplitude
		}
	}
	return samples
}

func TestVADDetector_ProcessFrame(t *testing.T) {
	vad := NewVADDetector(&VADConfig{EnergyThreshold: 500, SilenceFrames: 2, FrameDuration: 20})

	speaking, started, ended := vad.ProcessFrame(tone(320, 2000))
	if !speaking || !started || ended {
		t.Errorf("Expected speech start, got speaking=%v started=%v ended=%v", speaking, started, ended)
	}

	vad.ProcessFrame(tone(320, 10))
	speaking, _, ended = vad.ProcessFrame(tone(320, 10))
	if speaking || !ended {
		t.Errorf("Expected speech end after silence, got speaking=%v ended=%v", speaking, ended)
	}

	if vad.SpeechFrames() != 1 {
		t.Errorf("Expected 1 speech frame, got %d", vad.SpeechFrames())
	}

	vad.Reset()
	if vad.SpeechFrames() != 0 {
		t.Errorf("Expected 0 speech frames after reset, got %d", vad.SpeechFrames())
	}
}

func TestDetectSpeech(t *testing.T) {
	silence := SamplesToBytes(make([]int16, 16000))
	if DetectSpeech(silence, DefaultFormat, nil) {
		t.Error("Expected no speech in silence")
	}

	speech := SamplesToBytes(tone(16000, 3000))
	if !DetectSpeech(speech, DefaultFormat, nil) {
		t.Error("Expected speech to be detected")
	}

	// A single loud click is shorter than the minimum speech run.
	click := append(tone(320, 3000), make([]int16, 16000)...)
	if DetectSpeech(SamplesToBytes(click), DefaultFormat, nil) {
		t.Error("Expected a short click not to count as speech")
	}

	if DetectSpeech(nil, DefaultFormat, nil) {
		t.Error("Expected no speech for empty input")
	}
}
