package audio

import (
	"testing"
)

func TestCaptureBuffer_WriteAndBytes(t *testing.T) {
	buf := NewCaptureBuffer(0)

	buf.Write([]byte{1, 2, 3})
	buf.Write([]byte{4, 5})

	got := buf.Bytes()
	if len(got) != 5 {
		t.Fatalf("Expected 5 bytes, got %d", len(got))
	}
	for i, b := range []byte{1, 2, 3, 4, 5} {
		if got[i] != b {
			t.Errorf("Byte %d: expected %d, got %d", i, b, got[i])
		}
	}

	// Bytes must return a copy.
	got[0] = 99
	if buf.Bytes()[0] != 1 {
		t.Error("Expected Bytes to return a copy")
	}
}

func TestCaptureBuffer_Limit(t *testing.T) {
	buf := NewCaptureBuffer(4)

	if n := buf.Write([]byte{1, 2, 3}); n != 3 {
		t.Errorf("Expected 3 bytes written, got %d", n)
	}
	if n := buf.Write([]byte{4, 5, 6}); n != 1 {
		t.Errorf("Expected 1 byte written, got %d", n)
	}
	if !buf.Truncated() {
		t.Error("Expected buffer to report truncation")
	}
	if n := buf.Write([]byte{7}); n != 0 {
		t.Errorf("Expected 0 bytes written to a full buffer, got %d", n)
	}
	if buf.Len() != 4 {
		t.Errorf("Expected length 4, got %d", buf.Len())
	}
}

func TestCaptureBuffer_Clear(t *testing.T) {
	buf := NewCaptureBuffer(2)
	buf.Write([]byte{1, 2, 3})
	buf.Clear()

	if buf.Len() != 0 {
		t.Errorf("Expected empty buffer after clear, got %d bytes", buf.Len())
	}
	if buf.Truncated() {
		t.Error("Expected truncation flag to reset after clear")
	}
}
