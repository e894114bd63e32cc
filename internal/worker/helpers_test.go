package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"buildings-export/internal/config"
)

var errSinkDown = errors.New("sink down")

// memSink 는 앞의 failures 번 Put 을 실패시키는 메모리 Sink.
type memSink struct {
	mu       sync.Mutex
	failures int
	calls    int
	objects  map[string][]byte
}

func newMemSink(failures int) *memSink {
	return &memSink{failures: failures, objects: make(map[string][]byte)}
}

func (s *memSink) String() string { return "mem" }

func (s *memSink) Put(ctx context.Context, key string, body []byte) error {
	return s.PutFile(ctx, key, bytes.NewReader(body), int64(len(body)))
}

func (s *memSink) PutFile(_ context.Context, key string, f io.ReadSeeker, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.failures > 0 {
		s.failures--
		return errSinkDown
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	s.objects[key] = b
	return nil
}

func (s *memSink) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	return b, ok
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		InstanceID:      "test",
		JobQueue:        4,
		DLQDir:          t.TempDir(),
		DLQMaxAge:       time.Hour,
		DLQMaxSizeBytes: 1 << 20,
		S3AppRetries:    2,
		S3Timeout:       time.Second,
	}
}
