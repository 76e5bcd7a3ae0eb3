// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package processor_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sevakavakians/kato-sub008/internal/logging"
	"github.com/sevakavakians/kato-sub008/internal/minhash"
	"github.com/sevakavakians/kato-sub008/internal/processor"
	"github.com/sevakavakians/kato-sub008/internal/store"
)

// recordingMetadataStore counts calls to the two C5 increment methods
// without changing their behavior, so a test can assert a repair job
// replayed exactly the steps it flagged and no others.
type recordingMetadataStore struct {
	*store.MemoryMetadataStore
	mu        sync.Mutex
	freqCalls int
	pmfCalls  int
}

func (r *recordingMetadataStore) IncrementSymbolFrequency(ctx context.Context, kbID string, symbols []string) error {
	r.mu.Lock()
	r.freqCalls++
	r.mu.Unlock()
	return r.MemoryMetadataStore.IncrementSymbolFrequency(ctx, kbID, symbols)
}

func (r *recordingMetadataStore) IncrementSymbolPMF(ctx context.Context, kbID string, symbols []string) error {
	r.mu.Lock()
	r.pmfCalls++
	r.mu.Unlock()
	return r.MemoryMetadataStore.IncrementSymbolPMF(ctx, kbID, symbols)
}

func (r *recordingMetadataStore) calls() (freq, pmf int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.freqCalls, r.pmfCalls
}

// recordingIndex counts Add calls and signals done on the first one, so
// a test can wait for the repair worker to have actually processed a
// job instead of sleeping a fixed guess.
type recordingIndex struct {
	minhash.Index
	mu       sync.Mutex
	addCalls int
	done     chan struct{}
}

func (r *recordingIndex) Add(ctx context.Context, kbID, name string, sig minhash.Signature, p minhash.Params) error {
	r.mu.Lock()
	r.addCalls++
	r.mu.Unlock()
	err := r.Index.Add(ctx, kbID, name, sig, p)
	select {
	case r.done <- struct{}{}:
	default:
	}
	return err
}

func (r *recordingIndex) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addCalls
}

// TestRepairWorker_IndexOnlyJobNeverReplaysFrequencyOrPMF verifies the
// per-step flag fix: a repair job that only flags NeedIndex (because,
// say, a learn's frequency increment already landed and only the index
// update failed) must apply exactly the index add and nothing else —
// a coarser "something about this learn failed, redo all of it" job
// would double-count the frequency increment on replay.
func TestRepairWorker_IndexOnlyJobNeverReplaysFrequencyOrPMF(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metadata := &recordingMetadataStore{MemoryMetadataStore: store.NewMemoryMetadataStore()}
	index := &recordingIndex{Index: minhash.NewMemoryIndex(), done: make(chan struct{}, 1)}

	queue := processor.NewRepairQueue(logging.NewTestLogger(io.Discard))
	defer func() { _ = queue.Close() }()

	worker := &processor.RepairWorker{Queue: queue, Metadata: metadata, Index: index, Params: minhash.DefaultParams()}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = worker.Serve(ctx)
	}()

	// Give the worker time to subscribe before publishing: the queue is
	// a non-persistent in-process pub/sub, so a publish with no
	// subscriber yet registered would otherwise be silently dropped.
	time.Sleep(100 * time.Millisecond)

	job := processor.RepairJob{
		KBID:       "kb1",
		Name:       "PTRN|x",
		Symbols:    []string{"a", "b"},
		NeedIndex:  true,
		MinHashSig: minhash.Compute([]string{"a", "b"}, minhash.DefaultParams()),
	}
	require.NoError(t, queue.Publish(job))

	select {
	case <-index.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for repair worker to apply the index-only job")
	}

	freqCalls, pmfCalls := metadata.calls()
	require.Equal(t, 0, freqCalls, "an index-only repair job must never replay the frequency increment")
	require.Equal(t, 0, pmfCalls, "an index-only repair job must never replay the pmf increment")
	require.Equal(t, 1, index.calls())

	names, err := index.Index.Query(ctx, "kb1", job.MinHashSig, minhash.DefaultParams())
	require.NoError(t, err)
	require.Contains(t, names, "PTRN|x")

	cancel()
	wg.Wait()
}

// TestRepairWorker_FreqOnlyJobNeverTouchesIndexOrPMF is the mirror
// case: a job flagging only NeedFreq must not call PMF or Add.
func TestRepairWorker_FreqOnlyJobNeverTouchesIndexOrPMF(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metadata := &recordingMetadataStore{MemoryMetadataStore: store.NewMemoryMetadataStore()}
	index := &recordingIndex{Index: minhash.NewMemoryIndex(), done: make(chan struct{}, 1)}

	queue := processor.NewRepairQueue(logging.NewTestLogger(io.Discard))
	defer func() { _ = queue.Close() }()

	worker := &processor.RepairWorker{Queue: queue, Metadata: metadata, Index: index, Params: minhash.DefaultParams()}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = worker.Serve(ctx)
	}()
	time.Sleep(100 * time.Millisecond)

	job := processor.RepairJob{KBID: "kb1", Name: "PTRN|y", Symbols: []string{"c"}, NeedFreq: true}
	require.NoError(t, queue.Publish(job))

	require.Eventually(t, func() bool {
		freqCalls, _ := metadata.calls()
		return freqCalls == 1
	}, 2*time.Second, 10*time.Millisecond, "frequency increment should have been replayed")

	_, pmfCalls := metadata.calls()
	require.Equal(t, 0, pmfCalls)
	require.Equal(t, 0, index.calls())

	cancel()
	wg.Wait()
}
