package downloader

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"meta-pipeline/internal/domain"
)

type testPayload struct {
	Name string `json:"name"`
}

// recordingMetrics keeps every observation in memory.
type recordingMetrics struct {
	mu        sync.Mutex
	scheduled map[string]int
	finished  map[string]int
	skipped   int
	inFlight  int
	started   int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		scheduled: make(map[string]int),
		finished:  make(map[string]int),
	}
}

func (m *recordingMetrics) TaskScheduled(_ string, _ domain.Pipeline, _ bool, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled[outcome]++
}

func (m *recordingMetrics) DownloadSkipped(string, domain.Pipeline, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped++
}

func (m *recordingMetrics) DownloadStarted(string, domain.Pipeline) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
	m.inFlight++
}

func (m *recordingMetrics) DownloadFinished(_ string, _ domain.Pipeline, _ bool, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
	m.finished[outcome]++
}

func (m *recordingMetrics) snapshot() (scheduled, finished map[string]int, skipped, inFlight int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	scheduled = make(map[string]int, len(m.scheduled))
	for k, v := range m.scheduled {
		scheduled[k] = v
	}
	finished = make(map[string]int, len(m.finished))
	for k, v := range m.finished {
		finished[k] = v
	}
	return scheduled, finished, m.skipped, m.inFlight
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, entry domain.DownloadEntry[testPayload]) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// recordingRouter captures every routed batch.
type recordingRouter struct {
	mu      sync.Mutex
	batches map[domain.Pipeline][][]domain.DownloadTask
	err     error
}

func newRecordingRouter() *recordingRouter {
	return &recordingRouter{batches: make(map[domain.Pipeline][][]domain.DownloadTask)}
}

func (r *recordingRouter) Send(_ context.Context, tasks []domain.DownloadTask, pipeline domain.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	batch := make([]domain.DownloadTask, len(tasks))
	copy(batch, tasks)
	r.batches[pipeline] = append(r.batches[pipeline], batch)
	return nil
}

func (r *recordingRouter) Close() error { return nil }

func (r *recordingRouter) tasks() []domain.DownloadTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.DownloadTask
	for _, pipeline := range domain.Pipelines() {
		for _, batch := range r.batches[pipeline] {
			out = append(out, batch...)
		}
	}
	return out
}
