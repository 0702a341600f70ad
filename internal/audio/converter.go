package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Format describes raw little-endian 16-bit PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is the capture format used by the microphone devices (16kHz mono).
var DefaultFormat = Format{SampleRate: 16000, Channels: 1}

// Validate reports whether the format can be used for encoding.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channel count must be positive, got %d", f.Channels)
	}
	return nil
}

// BytesPerSecond returns the byte rate of 16-bit PCM in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns the playback duration of pcm in this format.
func (f Format) Duration(pcm []byte) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(len(pcm)) * time.Second / time.Duration(bps)
}

// BytesToSamples decodes 16-bit little-endian PCM into samples.
func BytesToSamples(pcm []byte) ([]int16, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples, nil
}

// SamplesToBytes encodes samples as 16-bit little-endian PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Resample converts mono PCM between sample rates using linear interpolation.
// Speech recognizers are tolerant of the quality loss; synthesized audio is
// normally requested at the output rate so this path is rarely taken for playback.
func Resample(pcm []byte, inputRate, outputRate int) ([]byte, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", inputRate, outputRate)
	}
	if inputRate == outputRate || len(pcm) == 0 {
		return pcm, nil
	}
	samples, err := BytesToSamples(pcm)
	if err != nil {
		return nil, err
	}
	return SamplesToBytes(resample(samples, inputRate, outputRate)), nil
}

func resample(samples []int16, inputRate, outputRate int) []int16 {
	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio
		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}
		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// CalculateRMS calculates the root mean square energy of samples.
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
