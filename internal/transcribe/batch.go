package transcribe

import (
	"context"
	"errors"
	"sync"
)

// batchRecognizer buffers audio and transcribes it in one call on Finalize.
type batchRecognizer struct {
	backend BatchTranscriber
	cfg     StreamConfig

	mu     sync.Mutex
	pcm    []byte
	closed bool
}

// NewBatchRecognizer adapts a BatchTranscriber to the streaming Recognizer contract.
func NewBatchRecognizer(backend BatchTranscriber, cfg StreamConfig) Recognizer {
	return &batchRecognizer{backend: backend, cfg: cfg}
}

func (r *batchRecognizer) Write(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("recognizer is closed")
	}
	r.pcm = append(r.pcm, pcm...)
	return nil
}

func (r *batchRecognizer) Finalize(ctx context.Context) (Transcript, error) {
	r.mu.Lock()
	pcm := r.pcm
	r.pcm = nil
	r.closed = true
	r.mu.Unlock()

	return r.backend.Transcribe(ctx, pcm, r.cfg)
}

func (r *batchRecognizer) Interim() <-chan string { return nil }

func (r *batchRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.pcm = nil
	return nil
}
