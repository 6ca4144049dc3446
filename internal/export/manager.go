package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"

	"github.com/elizor/elizor/internal/logging"
	"github.com/elizor/elizor/internal/project"
)

// Source is the read side of the project engine an export snapshots.
type Source interface {
	Project() (project.Project, bool)
	ExportInputs() []project.VideoClip
}

const (
	defaultJobTimeout = 30 * time.Minute
	subscriberBuffer  = 32
)

type task struct {
	job       Job
	title     string
	frameRate float64
	inputs    []Input
	cancel    context.CancelFunc
	cancelled bool
}

// Manager queues export jobs and runs them one at a time.
type Manager struct {
	repo         Repository
	transcoder   Transcoder
	source       Source
	exportDir    string
	timeout      time.Duration
	logger       *slog.Logger
	pollInterval time.Duration
	now          func() time.Time

	mu     sync.Mutex
	queue  []string
	tasks  map[string]*task
	latest map[string]Progress
	subs   map[string]map[chan Progress]struct{}

	wake    chan struct{}
	running atomic.Bool
}

func NewManager(repo Repository, transcoder Transcoder, source Source, exportDir string, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	if err := ValidateOutputDir(exportDir); err != nil {
		return nil, err
	}
	return &Manager{
		repo:         repo,
		transcoder:   transcoder,
		source:       source,
		exportDir:    exportDir,
		timeout:      defaultJobTimeout,
		logger:       logger,
		pollInterval: 5 * time.Second,
		now:          time.Now,
		tasks:        make(map[string]*task),
		latest:       make(map[string]Progress),
		subs:         make(map[string]map[chan Progress]struct{}),
		wake:         make(chan struct{}, 1),
	}, nil
}

func (m *Manager) SetTimeout(d time.Duration) {
	if d > 0 {
		m.timeout = d
	}
}

func (m *Manager) ExportDir() string {
	return m.exportDir
}

// Submit snapshots the current timeline and queues a job for it.
func (m *Manager) Submit(ctx context.Context, req Request) (*Job, error) {
	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format == "" {
		format = FormatMP4
	}
	if format != FormatMP4 && format != FormatEDL {
		return nil, fmt.Errorf("%q: %w", req.Format, ErrUnsupportedFormat)
	}

	p, ok := m.source.Project()
	if !ok {
		return nil, project.ErrNoProject
	}
	clips := m.source.ExportInputs()
	if len(clips) == 0 {
		return nil, ErrNoInputs
	}

	inputs := make([]Input, len(clips))
	for i, c := range clips {
		inputs[i] = Input{
			FileName:   c.FileName,
			ContentURL: c.ContentURL,
			Data:       c.Data,
			Duration:   c.Duration,
		}
	}

	now := m.now().UTC()
	job := Job{
		ID:        ulid.Make().String(),
		ProjectID: p.ID,
		Format:    format,
		Status:    StatusPending,
		ClipCount: len(inputs),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.repo.CreateJob(ctx, &job); err != nil {
		return nil, fmt.Errorf("create export job: %w", err)
	}

	m.mu.Lock()
	m.tasks[job.ID] = &task{job: job, title: p.Title, frameRate: req.FrameRate, inputs: inputs}
	m.queue = append(m.queue, job.ID)
	m.mu.Unlock()

	m.logger.Info("export queued", "export_id", job.ID, "format", format, "clips", len(inputs))

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return &job, nil
}

// Start runs queued jobs until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	if m.running.Swap(true) {
		return
	}
	defer m.running.Store(false)

	m.logger.Info("export runner started")

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("export runner stopping")
			m.abandonQueued()
			return
		case <-m.wake:
		case <-ticker.C:
		}
		for m.runNext(ctx) {
			if ctx.Err() != nil {
				break
			}
		}
	}
}

func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	j, err := m.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	return j, nil
}

func (m *Manager) List(ctx context.Context, limit int) ([]*Job, error) {
	return m.repo.ListJobs(ctx, limit)
}

// ActiveCount is the number of queued or running jobs.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Latest returns the most recent progress event of a job seen by this
// process.
func (m *Manager) Latest(id string) (Progress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.latest[id]
	return p, ok
}

// Cancel stops a running job or drops a queued one.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		j, err := m.Get(ctx, id)
		if err != nil {
			return err
		}
		if j.Finished() {
			return ErrJobFinished
		}
		return fmt.Errorf("%s is not owned by this process: %w", id, ErrJobFinished)
	}

	t.cancelled = true
	if t.cancel != nil {
		t.cancel()
		m.mu.Unlock()
		m.logger.Info("export cancel requested", "export_id", id)
		return nil
	}

	m.queue = removeQueued(m.queue, id)
	delete(m.tasks, id)
	m.mu.Unlock()

	m.finish(ctx, id, StatusCancelled, "", Progress{Phase: PhaseCancelled, Message: "Export cancelled"})
	return nil
}

// Subscribe streams progress events of a job. The channel is closed after
// the terminal event. The returned func unsubscribes.
func (m *Manager) Subscribe(id string) (<-chan Progress, func()) {
	ch := make(chan Progress, subscriberBuffer)

	m.mu.Lock()
	last, seen := m.latest[id]
	_, active := m.tasks[id]
	if seen {
		ch <- last
	}
	if !active {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if m.subs[id] == nil {
		m.subs[id] = make(map[chan Progress]struct{})
	}
	m.subs[id][ch] = struct{}{}
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if set, ok := m.subs[id]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
		}
	}
}

func (m *Manager) runNext(ctx context.Context) bool {
	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return false
	}
	id := m.queue[0]
	m.queue = m.queue[1:]
	t := m.tasks[id]
	jobCtx, cancel := context.WithTimeout(ctx, m.timeout)
	t.cancel = cancel
	m.mu.Unlock()
	defer cancel()

	m.run(jobCtx, t)
	return true
}

func (m *Manager) run(ctx context.Context, t *task) {
	logger := logging.WithExportID(m.logger, t.job.ID)
	store := context.WithoutCancel(ctx)

	if err := m.repo.UpdateJobStatus(store, t.job.ID, StatusRunning, ""); err != nil {
		logger.Error("failed to mark export running", "error", err)
	}
	logger.Info("export started", "format", t.job.Format)

	onProgress := func(p Progress) {
		if p.Phase.Terminal() {
			return
		}
		m.publish(t.job.ID, p)
		if p.Phase == PhaseProcessing {
			if err := m.repo.UpdateJobProgress(store, t.job.ID, p.Percent); err != nil {
				logger.Warn("failed to record export progress", "error", err)
			}
		}
	}

	outPath, err := m.produce(ctx, t, onProgress)

	m.mu.Lock()
	userCancelled := t.cancelled
	m.mu.Unlock()

	switch {
	case err == nil:
		if err := m.repo.SetJobOutput(store, t.job.ID, outPath); err != nil {
			logger.Error("failed to record export output", "error", err)
		}
		if err := m.repo.UpdateJobProgress(store, t.job.ID, 100); err != nil {
			logger.Warn("failed to record export progress", "error", err)
		}
		logger.Info("export completed", "path", logging.SanitizePath(outPath))
		m.finish(store, t.job.ID, StatusCompleted, "", Progress{Phase: PhaseComplete, Percent: 100, Message: "Export complete!"})
	case userCancelled:
		logger.Info("export cancelled")
		m.finish(store, t.job.ID, StatusCancelled, "", Progress{Phase: PhaseCancelled, Message: "Export cancelled"})
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		msg := fmt.Sprintf("export timed out after %s", m.timeout)
		logger.Error("export failed", "error", msg)
		m.finish(store, t.job.ID, StatusFailed, msg, Progress{Phase: PhaseError, Message: msg})
	default:
		logger.Error("export failed", "error", err)
		m.finish(store, t.job.ID, StatusFailed, err.Error(), Progress{Phase: PhaseError, Message: err.Error()})
	}
}

func (m *Manager) produce(ctx context.Context, t *task, onProgress ProgressFunc) (string, error) {
	switch t.job.Format {
	case FormatEDL:
		onProgress(Progress{Phase: PhaseProcessing, Percent: 50, Message: "Writing edit decision list..."})
		if ctx.Err() != nil {
			return "", ErrCancelled
		}
		title := SanitizeName(t.title, 120)
		if title == "" {
			title = "Untitled"
		}
		edl := GenerateEDL(t.inputs, title, t.frameRate)
		return m.write(ExportFilename(t.title, m.now(), FormatEDL), []byte(edl))
	default:
		data, err := m.transcoder.Concat(ctx, t.inputs, onProgress)
		if err != nil {
			return "", err
		}
		return m.write(ExportFilename(t.title, m.now(), FormatMP4), data)
	}
}

func (m *Manager) write(name string, data []byte) (string, error) {
	path := filepath.Join(m.exportDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	m.logger.Debug("export written", "file", name, "size", humanize.Bytes(uint64(len(data))))
	return path, nil
}

// finish records the terminal state, retires the task, delivers the final
// event and releases subscribers.
func (m *Manager) finish(ctx context.Context, id, status, errMsg string, final Progress) {
	if err := m.repo.UpdateJobStatus(ctx, id, status, errMsg); err != nil {
		m.logger.Error("failed to record export status", "export_id", id, "status", status, "error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	m.latest[id] = final
	for ch := range m.subs[id] {
		offer(ch, final)
		close(ch)
	}
	delete(m.subs, id)
}

func (m *Manager) publish(id string, p Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[id] = p
	for ch := range m.subs[id] {
		offer(ch, p)
	}
}

func (m *Manager) abandonQueued() {
	m.mu.Lock()
	ids := append([]string(nil), m.queue...)
	m.queue = nil
	for _, id := range ids {
		delete(m.tasks, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.finish(context.Background(), id, StatusFailed, "interrupted by shutdown",
			Progress{Phase: PhaseError, Message: "interrupted by shutdown"})
	}
}

// offer delivers p without blocking, dropping the oldest buffered event when
// the subscriber lags. Callers hold m.mu.
func offer(ch chan Progress, p Progress) {
	select {
	case ch <- p:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- p:
	default:
	}
}

func removeQueued(queue []string, id string) []string {
	out := queue[:0]
	for _, q := range queue {
		if q != id {
			out = append(out, q)
		}
	}
	return out
}
