package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/snapmeta/snapmeta/internal/domain"
	"github.com/snapmeta/snapmeta/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{
		Level:  "error",
		Format: "json",
		Output: io.Discard,
	})
}

// writeTestPNG writes a width x height PNG into dir and returns its path.
func writeTestPNG(t *testing.T, dir, name string, width, height int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create test image: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return path
}

// memStorage is an in-memory ObjectStorage for tests.
type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *memStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStorage) GetURL(key string) string {
	return "https://cdn.test/" + key
}

func (s *memStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memStorage) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memStorage) EnsureBucket(ctx context.Context) error {
	return nil
}

func (s *memStorage) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// fakeGenerator returns canned metadata. failNext steers per-call failures
// in call order; failAll fails every call.
type fakeGenerator struct {
	mu       sync.Mutex
	metadata domain.Metadata
	failNext []error // errors popped per call; nil entry means success
	failAll  error
	calls    int
	formats  []string // format argument of each call, in call order
}

func (g *fakeGenerator) Generate(ctx context.Context, imageData []byte, format string) (*domain.Metadata, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.formats = append(g.formats, format)
	if g.failAll != nil {
		return nil, g.failAll
	}
	if len(g.failNext) > 0 {
		err := g.failNext[0]
		g.failNext = g.failNext[1:]
		if err != nil {
			return nil, err
		}
	}
	md := g.metadata
	if md.Title == "" {
		md = domain.Metadata{
			Title:       "Sunlit mountain lake at golden hour",
			Description: "A calm alpine lake reflecting snow-capped peaks under warm evening light, ideal for travel and nature content.",
			Keywords:    domain.StringArray{"mountain", "lake", "sunset"},
		}
	}
	return &md, nil
}

func (g *fakeGenerator) Model() string {
	return "fake-model"
}

// memBatchStore is an in-memory BatchStore mirroring the repository's
// append-and-recompute semantics.
type memBatchStore struct {
	mu      sync.Mutex
	batches map[string]*domain.Batch
}

func newMemBatchStore() *memBatchStore {
	return &memBatchStore{batches: make(map[string]*domain.Batch)}
}

func copyBatch(b *domain.Batch) *domain.Batch {
	cp := *b
	cp.SuccessfulImages = append(domain.ImageResultList{}, b.SuccessfulImages...)
	cp.FailedImages = append(domain.FailureResultList{}, b.FailedImages...)
	return &cp
}

func (s *memBatchStore) Create(ctx context.Context, batch *domain.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.ID] = copyBatch(batch)
	return nil
}

func (s *memBatchStore) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return nil, domain.ErrBatchNotFound
	}
	return copyBatch(batch), nil
}

func (s *memBatchStore) AppendSuccess(ctx context.Context, batchID string, result domain.ImageResult, remainingTokens int64) (*domain.Batch, error) {
	return s.append(batchID, func(b *domain.Batch) {
		b.SuccessfulImages = append(b.SuccessfulImages, result)
		b.RemainingTokens = remainingTokens
	})
}

func (s *memBatchStore) AppendFailure(ctx context.Context, batchID string, failure domain.FailureResult) (*domain.Batch, error) {
	return s.append(batchID, func(b *domain.Batch) {
		b.FailedImages = append(b.FailedImages, failure)
	})
}

func (s *memBatchStore) append(batchID string, mutate func(*domain.Batch)) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[batchID]
	if !ok {
		return nil, domain.ErrBatchNotFound
	}
	mutate(batch)
	batch.Status = batch.ComputeStatus()
	batch.UpdatedAt = time.Now()
	return copyBatch(batch), nil
}

func (s *memBatchStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Batch
	for _, b := range s.batches {
		if b.UserID == userID {
			out = append(out, *copyBatch(b))
		}
	}
	return out, nil
}

// memLedger is an in-memory TokenLedger with the same atomic conditional
// decrement contract as the repository.
type memLedger struct {
	mu       sync.Mutex
	balances map[string]int64
}

func newMemLedger() *memLedger {
	return &memLedger{balances: make(map[string]int64)}
}

func (l *memLedger) TryDebit(ctx context.Context, userID string, amount int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[userID] < amount {
		return false, nil
	}
	l.balances[userID] -= amount
	return true, nil
}

func (l *memLedger) Balance(ctx context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID], nil
}

func (l *memLedger) set(userID string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = amount
}

// waitForTerminal polls the store until the batch leaves processing.
func waitForTerminal(t *testing.T, store BatchStore, batchID string) *domain.Batch {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		batch, err := store.GetByID(context.Background(), batchID)
		if err != nil {
			t.Fatalf("failed to poll batch: %v", err)
		}
		if batch.Status.IsTerminal() {
			return batch
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("batch %s did not reach a terminal status", batchID)
	return nil
}

// leftoverFiles lists files remaining under dir.
func leftoverFiles(t *testing.T, dir string) []string {
	t.Helper()
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to walk %s: %v", dir, err)
	}
	return files
}
