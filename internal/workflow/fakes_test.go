package workflow

import (
	"context"
	"errors"
	"io"
	"sync"

	"recipes/internal/domain"
	"recipes/internal/providers/image"
	"recipes/internal/providers/text"
)

// scriptedText replays one script per attempt. A script is a list of chunks
// optionally followed by an error returned instead of io.EOF.
type scriptedText struct {
	mu      sync.Mutex
	scripts []textScript
	calls   int
	prompts []string
}

type textScript struct {
	chunks  []string
	err     error
	openErr error
}

func (s *scriptedText) Name() string { return "scripted" }

func (s *scriptedText) Stream(_ context.Context, prompt string) (text.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.scripts) {
		idx = len(s.scripts) - 1
	}
	s.calls++
	s.prompts = append(s.prompts, prompt)
	script := s.scripts[idx]
	if script.openErr != nil {
		return nil, script.openErr
	}
	return &scriptedStream{script: script}, nil
}

type scriptedStream struct {
	script textScript
	pos    int
	closed bool
}

func (s *scriptedStream) Next() (string, error) {
	if s.pos < len(s.script.chunks) {
		chunk := s.script.chunks[s.pos]
		s.pos++
		return chunk, nil
	}
	if s.script.err != nil {
		return "", s.script.err
	}
	return "", io.EOF
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

type fakeImage struct {
	mu     sync.Mutex
	errs   []error
	calls  int
	prompt string
	seed   int64
	asset  *image.Asset
}

func (f *fakeImage) Name() string { return "fake-image" }

func (f *fakeImage) Generate(_ context.Context, prompt string, seed int64) (*image.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompt = prompt
	f.seed = seed
	if len(f.errs) >= f.calls && f.errs[f.calls-1] != nil {
		return nil, f.errs[f.calls-1]
	}
	if f.asset != nil {
		return f.asset, nil
	}
	return &image.Asset{Data: []byte("png-bytes"), Format: "image/png", Width: 512, Height: 512}, nil
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryStore) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.objects[key] = data
	m.types[key] = contentType
	return "https://cdn.example.com/" + key, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// recordingRelay keeps every message in delivery order.
type recordingRelay struct {
	mu       sync.Mutex
	messages []domain.OutboundMessage
	conns    []string
	gone     bool
}

func (r *recordingRelay) Deliver(_ context.Context, connectionID string, msg domain.OutboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gone {
		return &domain.DeliveryError{ConnectionID: connectionID, Reason: domain.ReasonConnectionGone}
	}
	r.messages = append(r.messages, msg)
	r.conns = append(r.conns, connectionID)
	return nil
}

func (r *recordingRelay) snapshot() []domain.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.OutboundMessage, len(r.messages))
	copy(out, r.messages)
	return out
}

func countType(msgs []domain.OutboundMessage, typ domain.MessageType) int {
	n := 0
	for _, m := range msgs {
		if m.Type == typ {
			n++
		}
	}
	return n
}

var errBoom = errors.New("boom")
