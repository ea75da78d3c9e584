package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Aashish23092/invoice-reconcile/dto"
	"github.com/Aashish23092/invoice-reconcile/logger"
	"github.com/Aashish23092/invoice-reconcile/store"
)

type job struct {
	cancel context.CancelFunc
	sink   *logger.ChannelSink
	done   chan struct{}
}

// JobManager runs batches in the background for the HTTP surface. Every
// batch gets its own cancellable context and a bounded event sink that
// clients drain by polling.
type JobManager struct {
	batches   *BatchService
	store     store.Store
	console   io.Writer
	maxEvents int

	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

// NewJobManager creates a manager. Log lines of every batch also go to
// console when it is not nil.
func NewJobManager(batches *BatchService, st store.Store, console io.Writer, maxEvents int) *JobManager {
	return &JobManager{
		batches:   batches,
		store:     st,
		console:   console,
		maxEvents: maxEvents,
		jobs:      make(map[string]*job),
	}
}

// Start validates the request and launches the batch, returning its ID.
func (m *JobManager) Start(req dto.StartBatchRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", dto.ErrInvalidInput, err)
	}
	info, err := os.Stat(req.FolderPath)
	if err != nil {
		return "", fmt.Errorf("%w: folder_path: %v", dto.ErrInvalidInput, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: folder_path %q is not a directory", dto.ErrInvalidInput, req.FolderPath)
	}

	id := uuid.NewString()
	sink := logger.NewChannelSink(m.maxEvents)

	var log zerolog.Logger
	if m.console != nil {
		log = logger.NewWithWriters(m.console, sink)
	} else {
		log = logger.NewWithWriter(sink)
	}

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	j := &job{cancel: cancel, sink: sink, done: make(chan struct{})}

	// visible to pollers before the goroutine gets scheduled
	if err := m.store.SaveBatch(&dto.BatchSummary{
		ID:         id,
		FolderPath: req.FolderPath,
		Status:     dto.BatchStatusRunning,
		StartedAt:  m.batches.now(),
	}); err != nil {
		cancel()
		return "", fmt.Errorf("failed to register batch: %w", err)
	}

	m.mu.Lock()
	m.jobs[id] = j
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(j.done)
		defer cancel()
		// the outcome is persisted by the batch service
		_, _ = m.batches.Run(ctx, id, req)
	}()

	return id, nil
}

// Status returns the stored summary of a batch.
func (m *JobManager) Status(id string) (*dto.BatchSummary, error) {
	return m.store.GetBatch(id)
}

// List returns every stored batch, newest first.
func (m *JobManager) List() ([]*dto.BatchSummary, error) {
	return m.store.ListBatches()
}

// Events drains the progress lines buffered since the last poll. A stopped
// batch is forgotten once its last events are drained, so later polls and
// batches from earlier runs of the process have no events.
func (m *JobManager) Events(id string) (*dto.EventsResponse, error) {
	summary, err := m.store.GetBatch(id)
	if err != nil {
		return nil, err
	}

	resp := &dto.EventsResponse{
		BatchID: id,
		Status:  string(summary.Status),
		Events:  []string{},
	}

	m.mu.Lock()
	j, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return resp, nil
	}

	// checked before draining so no line written before the stop is lost
	stopped := isClosed(j.done)
	resp.Events = j.sink.Drain()
	resp.Dropped = j.sink.Dropped()
	if stopped {
		m.mu.Lock()
		delete(m.jobs, id)
		m.mu.Unlock()
	}
	return resp, nil
}

// Records returns the reconciled rows of a finished batch.
func (m *JobManager) Records(id string) ([]dto.ReconciledRecord, error) {
	summary, err := m.store.GetBatch(id)
	if err != nil {
		return nil, err
	}
	if summary.Status == dto.BatchStatusRunning {
		return nil, dto.ErrBatchRunning
	}
	return m.store.GetRecords(id)
}

// Cancel stops a running batch. Files already being processed finish their
// current recognition call first.
func (m *JobManager) Cancel(id string) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		if _, err := m.store.GetBatch(id); err != nil {
			return err
		}
		return dto.ErrBatchFinished
	}

	if isClosed(j.done) {
		return dto.ErrBatchFinished
	}
	j.cancel()
	return nil
}

// Delete removes a stopped batch and its rows from the store.
func (m *JobManager) Delete(id string) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	m.mu.Unlock()
	if ok && !isClosed(j.done) {
		return dto.ErrBatchRunning
	}

	if _, err := m.store.GetBatch(id); err != nil {
		return err
	}
	if err := m.store.DeleteBatch(id); err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
	}

	m.mu.Lock()
	delete(m.jobs, id)
	m.mu.Unlock()
	return nil
}

// Wait blocks until the batch has stopped.
func (m *JobManager) Wait(ctx context.Context, id string) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		// already forgotten, or from an earlier run
		_, err := m.store.GetBatch(id)
		return err
	}

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every running batch and waits for them to stop.
func (m *JobManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, j := range m.jobs {
		j.cancel()
	}
	m.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
