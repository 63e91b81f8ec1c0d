package runs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/trustinn/internal/application"
	domain "github.com/bryanwahyu/trustinn/internal/domain/runs"
	"github.com/bryanwahyu/trustinn/internal/domain/tools"
)

// ErrNoHistory is returned by queries when no repository is configured.
var ErrNoHistory = errors.New("run history is not configured")

// ErrClosed is returned by TriggerRun once Shutdown has been called.
var ErrClosed = errors.New("run service is shutting down")

const defaultTenant = "default"

// Observer is notified around every run. The metrics middleware implements it.
type Observer interface {
	RunStarted(tool string)
	RunFinished(tool, status string, d time.Duration)
}

// Service implements use-cases untuk Run. Repo, Artifacts and Observer are
// optional. Service is safe for concurrent use.
type Service struct {
	Orchestrator *Orchestrator
	Repo         domain.Repository
	Artifacts    domain.ArtifactStore
	Observer     Observer
	Clock        application.Clock
	TempDir      string
	Log          *slog.Logger

	mu      sync.Mutex
	active  map[string]struct{}
	closed  bool
	running sync.WaitGroup
	life    context.Context
	stopAll context.CancelFunc
}

func NewService(o *Orchestrator, repo domain.Repository, artifacts domain.ArtifactStore, log *slog.Logger) *Service {
	return &Service{
		Orchestrator: o,
		Repo:         repo,
		Artifacts:    artifacts,
		Clock:        application.SystemClock{},
		TempDir:      "./temp",
		Log:          log,
	}
}

// TriggerRunCommand untuk trigger run
type TriggerRunCommand struct {
	TenantID string `json:"-"`
	Tool     string `json:"tool"`
	File     string `json:"file"`
	Bound    string `json:"bound,omitempty"`
	InputDir string `json:"input_dir,omitempty"`
}

// TriggerRunResult wraps the orchestrator result with the stored record id.
type TriggerRunResult struct {
	ID            string `json:"id"`
	TranscriptURL string `json:"transcript_url,omitempty"`
	*Result
}

// TriggerRun executes cmd, streams events into sink and records the run.
// It returns domain.ErrBusy or ErrClosed when the run cannot start; every
// other failure is reported through the result status. Shutdown cancels
// the run even when ctx does not.
func (s *Service) TriggerRun(ctx context.Context, cmd TriggerRunCommand, sink Sink) (TriggerRunResult, error) {
	tenant := cmd.TenantID
	if tenant == "" {
		tenant = defaultTenant
	}
	if err := s.acquire(tenant); err != nil {
		return TriggerRunResult{}, err
	}
	defer s.release(tenant)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(s.life, cancel)()

	id := uuid.New().String()
	started := s.now()
	tool, err := tools.ParseToolID(cmd.Tool)
	if err != nil {
		tool = tools.ToolID(strings.TrimSpace(cmd.Tool))
	}
	req := tools.Request{Tool: tool, TargetFile: cmd.File, Bound: cmd.Bound, InputDir: cmd.InputDir}

	if s.Observer != nil {
		s.Observer.RunStarted(string(tool))
	}
	log := s.logger().With("run_id", id, "tenant", tenant, "tool", tool)
	log.Info("run started", "file", cmd.File)

	tee := &transcript{next: sink}
	res := s.Orchestrator.Execute(ctx, req, tee)

	if s.Observer != nil {
		s.Observer.RunFinished(string(tool), string(res.Status), res.Duration)
	}
	log.Info("run finished", "status", res.Status, "exit_code", res.ExitCode, "duration_ms", res.Duration.Milliseconds())

	// history is written even when the caller went away
	bg := context.WithoutCancel(ctx)
	url := s.storeTranscript(bg, log, tenant, tool, id, tee.buf.Bytes())

	run := &domain.Run{
		ID:            domain.RunID(id),
		TenantID:      tenant,
		Tool:          tool,
		TargetFile:    cmd.File,
		Bound:         cmd.Bound,
		InputDir:      cmd.InputDir,
		Status:        res.Status,
		ExitCode:      res.ExitCode,
		DurationMS:    res.Duration.Milliseconds(),
		Message:       res.Message,
		TranscriptURL: url,
		StartedAt:     started,
	}
	if s.Repo != nil {
		if err := s.Repo.Save(bg, run); err != nil {
			log.Error("save run", "error", err)
		}
	}

	return TriggerRunResult{ID: id, TranscriptURL: url, Result: res}, nil
}

func (s *Service) storeTranscript(ctx context.Context, log *slog.Logger, tenant string, tool tools.ToolID, id string, body []byte) string {
	if s.TempDir == "" {
		return ""
	}
	if err := os.MkdirAll(s.TempDir, 0o755); err != nil {
		log.Error("create transcript dir", "error", err)
		return ""
	}
	path := filepath.Join(s.TempDir, id+".log")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		log.Error("write transcript", "error", err)
		return ""
	}
	if s.Artifacts == nil {
		return path
	}

	key := fmt.Sprintf("%s/%s/%s.log", tenant, tool, id)
	url, err := s.Artifacts.UploadAndCleanup(ctx, path, key)
	if err != nil {
		log.Error("upload transcript", "error", err, "key", key)
		return path
	}
	return url
}

// Latest ambil N run terakhir
func (s *Service) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Run, error) {
	if s.Repo == nil {
		return nil, ErrNoHistory
	}
	return s.Repo.Latest(ctx, tenant, limit)
}

// Get ambil 1 run by id
func (s *Service) Get(ctx context.Context, tenant string, id domain.RunID) (*domain.Run, error) {
	if s.Repo == nil {
		return nil, ErrNoHistory
	}
	return s.Repo.Get(ctx, tenant, id)
}

// Summary rekap status run N hari terakhir
func (s *Service) Summary(ctx context.Context, tenant string, sinceDays int) (domain.StatusCounts, error) {
	if s.Repo == nil {
		return domain.StatusCounts{}, ErrNoHistory
	}
	if sinceDays <= 0 {
		sinceDays = 7
	}
	return s.Repo.Summary(ctx, tenant, s.now().AddDate(0, 0, -sinceDays))
}

// Busy reports whether tenant has a run in progress.
func (s *Service) Busy(tenant string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[tenant]
	return ok
}

// Shutdown refuses new runs, cancels the ones in progress and waits for them
// to be recorded or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.init()
	s.closed = true
	s.stopAll()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) acquire(tenant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.active[tenant]; ok {
		return domain.ErrBusy
	}
	s.active[tenant] = struct{}{}
	s.running.Add(1)
	return nil
}

func (s *Service) release(tenant string) {
	s.mu.Lock()
	delete(s.active, tenant)
	s.mu.Unlock()
	s.running.Done()
}

// init must be called with mu held.
func (s *Service) init() {
	if s.active == nil {
		s.active = make(map[string]struct{})
	}
	if s.life == nil {
		s.life, s.stopAll = context.WithCancel(context.Background())
	}
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// transcript copies every event into a buffer before forwarding it.
type transcript struct {
	buf  bytes.Buffer
	next Sink
}

func (t *transcript) Emit(e Event) {
	switch e.Kind {
	case EventStdout:
		t.buf.WriteString(e.Text)
	case EventStderr:
		t.buf.WriteString("[stderr] " + e.Text)
	default:
		t.buf.WriteString("# " + e.Text)
	}
	t.buf.WriteByte('\n')
	if t.next != nil {
		t.next.Emit(e)
	}
}
