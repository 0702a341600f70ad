package audio

import (
	"testing"
	"time"
)

func TestBytesToSamples(t *testing.T) {
	pcm := SamplesToBytes([]int16{0, 1000, -1000, 32767, -32768})

	samples, err := BytesToSamples(pcm)
	if err != nil {
		t.Fatalf("BytesToSamples failed: %v", err)
	}
	expected := []int16{0, 1000, -1000, 32767, -32768}
	for i, s := range expected {
		if samples[i] != s {
			t.Errorf("Sample %d: expected %d, got %d", i, s, samples[i])
		}
	}
}

func TestBytesToSamples_OddLength(t *testing.T) {
	if _, err := BytesToSamples([]byte{0x00, 0x01, 0x02}); err == nil {
		t.Error("Expected error for odd-length PCM data")
	}
}

func TestResample(t *testing.T) {
	pcm := SamplesToBytes(make([]int16, 480))

	out, err := Resample(pcm, 48000, 16000)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if len(out) != 160*2 {
		t.Errorf("Expected %d bytes, got %d", 160*2, len(out))
	}

	same, err := Resample(pcm, 16000, 16000)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if len(same) != len(pcm) {
		t.Errorf("Expected identity resample to keep %d bytes, got %d", len(pcm), len(same))
	}

	if _, err := Resample(pcm, 0, 16000); err == nil {
		t.Error("Expected error for zero input rate")
	}
}

func TestCalculateRMS(t *testing.T) {
	if rms := CalculateRMS([]int16{}); rms != 0.0 {
		t.Errorf("Expected RMS 0 for empty samples, got %f", rms)
	}

	rms := CalculateRMS([]int16{1000, -1000, 1000, -1000})
	if rms < 999.0 || rms > 1001.0 {
		t.Errorf("Expected RMS ~1000, got %f", rms)
	}
}

func TestFormatDuration(t *testing.T) {
	pcm := make([]byte, DefaultFormat.BytesPerSecond()/2)
	if d := DefaultFormat.Duration(pcm); d != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", d)
	}
}
