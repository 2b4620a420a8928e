package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/snapmeta/snapmeta/internal/domain"
)

type batchFixture struct {
	store   *memBatchStore
	ledger  *memLedger
	objects *memStorage
	gen     *fakeGenerator
	service *BatchService
}

func newBatchFixture(t *testing.T, cfg *BatchConfig) *batchFixture {
	t.Helper()
	store := newMemBatchStore()
	ledger := newMemLedger()
	objects := newMemStorage()
	gen := &fakeGenerator{}
	exec := NewExecutor(NewResizer(1500), gen, objects, testLogger())
	svc := NewBatchService(store, ledger, objects, exec, testLogger(), cfg)
	return &batchFixture{
		store:   store,
		ledger:  ledger,
		objects: objects,
		gen:     gen,
		service: svc,
	}
}

func makeJobs(t *testing.T, dir string, count int) []*Job {
	t.Helper()
	jobs := make([]*Job, 0, count)
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("image-%d.png", i+1)
		path := writeTestPNG(t, dir, name, 600, 400)
		jobs = append(jobs, &Job{SourceFile: path, FileName: name})
	}
	return jobs
}

func TestBatchAllSucceed(t *testing.T) {
	fx := newBatchFixture(t, &BatchConfig{Workers: 3, TokenCost: 1})
	fx.ledger.set("user-1", 10)
	dir := t.TempDir()

	batch, err := fx.service.CreateBatch(context.Background(), "user-1", makeJobs(t, dir, 3))
	if err != nil {
		t.Fatalf("CreateBatch returned error: %v", err)
	}
	if batch.Status != domain.BatchStatusProcessing {
		t.Errorf("initial status = %s, want processing", batch.Status)
	}
	if batch.RemainingTokens != 10 {
		t.Errorf("initial remaining tokens = %d, want 10", batch.RemainingTokens)
	}

	final := waitForTerminal(t, fx.store, batch.ID)
	if final.Status != domain.BatchStatusCompleted {
		t.Errorf("final status = %s, want completed", final.Status)
	}
	if len(final.SuccessfulImages) != 3 || len(final.FailedImages) != 0 {
		t.Errorf("outcomes = %d success / %d failed, want 3/0",
			len(final.SuccessfulImages), len(final.FailedImages))
	}

	balance, _ := fx.ledger.Balance(context.Background(), "user-1")
	if balance != 7 {
		t.Errorf("balance = %d, want 7 (one token per success)", balance)
	}
	if final.RemainingTokens != 7 {
		t.Errorf("recorded remaining tokens = %d, want 7", final.RemainingTokens)
	}
	if fx.objects.len() != 3 {
		t.Errorf("stored objects = %d, want 3", fx.objects.len())
	}
	if files := leftoverFiles(t, dir); len(files) != 0 {
		t.Errorf("temporary files left behind: %v", files)
	}
}

func TestBatchPartialOnGenerationFailure(t *testing.T) {
	fx := newBatchFixture(t, &BatchConfig{Workers: 1, TokenCost: 1})
	fx.ledger.set("user-1", 10)
	fx.gen.failNext = []error{
		nil,
		domain.WrapError(domain.ErrorKindGeneration, fmt.Errorf("model refused")),
		nil,
	}
	dir := t.TempDir()

	batch, err := fx.service.CreateBatch(context.Background(), "user-1", makeJobs(t, dir, 3))
	if err != nil {
		t.Fatalf("CreateBatch returned error: %v", err)
	}

	final := waitForTerminal(t, fx.store, batch.ID)
	if final.Status != domain.BatchStatusPartial {
		t.Errorf("final status = %s, want partial", final.Status)
	}
	if len(final.SuccessfulImages) != 2 || len(final.FailedImages) != 1 {
		t.Errorf("outcomes = %d success / %d failed, want 2/1",
			len(final.SuccessfulImages), len(final.FailedImages))
	}
	if final.FailedImages[0].Reason != domain.ErrorKindGeneration {
		t.Errorf("failure reason = %s, want GenerationError", final.FailedImages[0].Reason)
	}

	// Failed images are not billed
	balance, _ := fx.ledger.Balance(context.Background(), "user-1")
	if balance != 8 {
		t.Errorf("balance = %d, want 8", balance)
	}
}

func TestBatchPartialOnTokenExhaustion(t *testing.T) {
	fx := newBatchFixture(t, &BatchConfig{Workers: 1, TokenCost: 1})
	fx.ledger.set("user-1", 1)
	dir := t.TempDir()

	batch, err := fx.service.CreateBatch(context.Background(), "user-1", makeJobs(t, dir, 2))
	if err != nil {
		t.Fatalf("CreateBatch returned error: %v", err)
	}

	final := waitForTerminal(t, fx.store, batch.ID)
	if final.Status != domain.BatchStatusPartial {
		t.Errorf("final status = %s, want partial", final.Status)
	}
	if len(final.SuccessfulImages) != 1 || len(final.FailedImages) != 1 {
		t.Errorf("outcomes = %d success / %d failed, want 1/1",
			len(final.SuccessfulImages), len(final.FailedImages))
	}
	if final.FailedImages[0].Reason != domain.ErrorKindInsufficientTokens {
		t.Errorf("failure reason = %s, want InsufficientTokens", final.FailedImages[0].Reason)
	}

	balance, _ := fx.ledger.Balance(context.Background(), "user-1")
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
	if files := leftoverFiles(t, dir); len(files) != 0 {
		t.Errorf("temporary files left behind: %v", files)
	}
}

func TestBatchFailsWithZeroBalance(t *testing.T) {
	fx := newBatchFixture(t, &BatchConfig{Workers: 2, TokenCost: 1})
	dir := t.TempDir()

	batch, err := fx.service.CreateBatch(context.Background(), "user-1", makeJobs(t, dir, 3))
	if err != nil {
		t.Fatalf("CreateBatch returned error: %v", err)
	}

	final := waitForTerminal(t, fx.store, batch.ID)
	if final.Status != domain.BatchStatusFailed {
		t.Errorf("final status = %s, want failed", final.Status)
	}
	if len(final.FailedImages) != 3 {
		t.Errorf("failed = %d, want 3", len(final.FailedImages))
	}
	for _, f := range final.FailedImages {
		if f.Reason != domain.ErrorKindInsufficientTokens {
			t.Errorf("failure reason = %s, want InsufficientTokens", f.Reason)
		}
	}
	if fx.objects.len() != 0 {
		t.Errorf("stored objects = %d, want 0", fx.objects.len())
	}
	if files := leftoverFiles(t, dir); len(files) != 0 {
		t.Errorf("temporary files left behind: %v", files)
	}
}

func TestBatchConcurrentDebitsNeverOverspend(t *testing.T) {
	fx := newBatchFixture(t, &BatchConfig{Workers: 4, TokenCost: 1})
	fx.ledger.set("user-1", 5)
	dir := t.TempDir()

	batch, err := fx.service.CreateBatch(context.Background(), "user-1", makeJobs(t, dir, 8))
	if err != nil {
		t.Fatalf("CreateBatch returned error: %v", err)
	}

	final := waitForTerminal(t, fx.store, batch.ID)

	// Every image is accounted for exactly once
	total := len(final.SuccessfulImages) + len(final.FailedImages)
	if total != 8 {
		t.Fatalf("outcomes = %d, want 8", total)
	}

	// The ledger is the wall: exactly as many successes as tokens
	if len(final.SuccessfulImages) != 5 {
		t.Errorf("successes = %d, want 5", len(final.SuccessfulImages))
	}
	balance, _ := fx.ledger.Balance(context.Background(), "user-1")
	if balance < 0 {
		t.Errorf("balance went negative: %d", balance)
	}
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}

	// Settlement rollback: only billed images stay in storage
	if fx.objects.len() != 5 {
		t.Errorf("stored objects = %d, want 5", fx.objects.len())
	}
	if final.Status != domain.BatchStatusPartial {
		t.Errorf("final status = %s, want partial", final.Status)
	}
}

func TestBatchPollingIsStable(t *testing.T) {
	fx := newBatchFixture(t, &BatchConfig{Workers: 2, TokenCost: 1})
	fx.ledger.set("user-1", 10)
	dir := t.TempDir()

	batch, err := fx.service.CreateBatch(context.Background(), "user-1", makeJobs(t, dir, 2))
	if err != nil {
		t.Fatalf("CreateBatch returned error: %v", err)
	}
	waitForTerminal(t, fx.store, batch.ID)

	first, err := fx.service.GetBatch(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("GetBatch returned error: %v", err)
	}
	second, err := fx.service.GetBatch(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("GetBatch returned error: %v", err)
	}
	if first.Status != second.Status ||
		len(first.SuccessfulImages) != len(second.SuccessfulImages) ||
		len(first.FailedImages) != len(second.FailedImages) {
		t.Error("polling a terminal batch must return identical state")
	}
}

func TestCreateBatchRejectsEmptyJobs(t *testing.T) {
	fx := newBatchFixture(t, &BatchConfig{})
	if _, err := fx.service.CreateBatch(context.Background(), "user-1", nil); err == nil {
		t.Fatal("expected an error for an empty batch")
	}
}

func TestGetBatchNotFound(t *testing.T) {
	fx := newBatchFixture(t, &BatchConfig{})
	_, err := fx.service.GetBatch(context.Background(), "no-such-batch")
	if err != domain.ErrBatchNotFound {
		t.Errorf("err = %v, want ErrBatchNotFound", err)
	}
}
