package runs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/trustinn/internal/application"
	domain "github.com/bryanwahyu/trustinn/internal/domain/runs"
	"github.com/bryanwahyu/trustinn/internal/domain/tools"
	"github.com/bryanwahyu/trustinn/internal/infra/db/sqlite"
	"github.com/bryanwahyu/trustinn/internal/testutil"
)

type fakeStore struct {
	mu      sync.Mutex
	uploads map[string]string
	err     error
}

func (f *fakeStore) Upload(_ context.Context, localPath, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	body, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploads == nil {
		f.uploads = map[string]string{}
	}
	f.uploads[key] = string(body)
	return "mem://" + key, nil
}

func (f *fakeStore) UploadAndCleanup(ctx context.Context, localPath, key string) (string, error) {
	url, err := f.Upload(ctx, localPath, key)
	if err != nil {
		return "", err
	}
	return url, os.Remove(localPath)
}

type countingObserver struct {
	started  []string
	finished []string
}

func (c *countingObserver) RunStarted(tool string) { c.started = append(c.started, tool) }
func (c *countingObserver) RunFinished(tool, status string, _ time.Duration) {
	c.finished = append(c.finished, tool+":"+status)
}

func newTestService(t *testing.T, runner *spyRunner, store domain.ArtifactStore) *Service {
	t.Helper()
	db, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	o := NewOrchestrator(tools.NewRegistry("/opt/trustinn"), runner, &spyStreamer{}, quiet)
	svc := NewService(o, sqlite.NewRunRepository(db), store, quiet)
	svc.TempDir = t.TempDir()
	svc.Clock = application.FixedClock(time.UnixMilli(1_760_000_000_000))
	return svc
}

func TestService_TriggerRunRecordsHistory(t *testing.T) {
	runner := &spyRunner{outcomes: []tools.Outcome{{Status: tools.StatusSuccess, Stdout: "VERIFICATION SUCCESSFUL\n"}}}
	store := &fakeStore{}
	obs := &countingObserver{}
	svc := newTestService(t, runner, store)
	svc.Observer = obs

	var events eventLog
	res, err := svc.TriggerRun(context.Background(), TriggerRunCommand{TenantID: "acme", Tool: "cbmc", File: "foo.c", Bound: "5"}, &events)
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)
	assert.Equal(t, tools.StatusSuccess, res.Status)
	assert.Equal(t, tools.ToolCBMC, res.Tool, "tool id is normalized")
	assert.Equal(t, []string{"VERIFICATION SUCCESSFUL"}, events.kind(EventStdout))

	key := "acme/CBMC/" + res.ID + ".log"
	assert.Equal(t, "mem://"+key, res.TranscriptURL)
	assert.Contains(t, store.uploads[key], "VERIFICATION SUCCESSFUL\n")
	assert.Contains(t, store.uploads[key], "# Executing CBMC on foo.c...")
	assert.NoFileExists(t, filepath.Join(svc.TempDir, res.ID+".log"))

	got, err := svc.Get(context.Background(), "acme", domain.RunID(res.ID))
	require.NoError(t, err)
	assert.Equal(t, tools.StatusSuccess, got.Status)
	assert.Equal(t, "5", got.Bound)
	assert.Equal(t, res.TranscriptURL, got.TranscriptURL)

	assert.Equal(t, []string{"CBMC"}, obs.started)
	assert.Equal(t, []string{"CBMC:success"}, obs.finished)
}

func TestService_RejectedRunIsRecorded(t *testing.T) {
	runner := &spyRunner{}
	svc := newTestService(t, runner, nil)

	res, err := svc.TriggerRun(context.Background(), TriggerRunCommand{TenantID: "acme", Tool: "AFL", File: "foo.c"}, nil)
	require.NoError(t, err)
	assert.Equal(t, tools.StatusRejected, res.Status)
	assert.ErrorIs(t, res.Err, tools.ErrMissingParameter)
	assert.Empty(t, runner.calls)
	assert.FileExists(t, res.TranscriptURL, "without a store the transcript stays local")

	latest, err := svc.Latest(context.Background(), "acme", 10)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, tools.StatusRejected, latest[0].Status)

	counts, err := svc.Summary(context.Background(), "acme", 7)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Rejected)
}

func TestService_UploadFailureKeepsResult(t *testing.T) {
	runner := &spyRunner{outcomes: []tools.Outcome{{Status: tools.StatusToolError, ExitCode: 10, Stdout: "VERIFICATION FAILED\n", Err: errors.New("exit status 10")}}}
	svc := newTestService(t, runner, &fakeStore{err: errors.New("bucket gone")})

	res, err := svc.TriggerRun(context.Background(), TriggerRunCommand{Tool: "CBMC", File: "foo.c"}, nil)
	require.NoError(t, err)
	assert.Equal(t, tools.StatusToolError, res.Status)
	assert.Equal(t, 10, res.ExitCode)
	assert.FileExists(t, res.TranscriptURL)

	_, err = svc.Get(context.Background(), defaultTenant, domain.RunID(res.ID))
	assert.NoError(t, err)
}

func TestService_BusyPerTenant(t *testing.T) {
	testutil.RequireUnix(t)
	root := t.TempDir()
	release := filepath.Join(root, "release")
	testutil.WriteScript(t, root, "Python-Tools/DSE/dse_run.sh", `while [ ! -f "`+release+`" ]; do sleep 0.02; done; echo finished`)

	o := NewOrchestrator(tools.NewRegistry(root), realOrchestrator(root).Runner, nil, quiet)
	svc := NewService(o, nil, nil, quiet)
	svc.TempDir = ""

	started := make(chan struct{})
	var once sync.Once
	done := make(chan TriggerRunResult, 1)
	go func() {
		res, _ := svc.TriggerRun(context.Background(), TriggerRunCommand{TenantID: "acme", Tool: "DSE", File: "main.py"},
			SinkFunc(func(e Event) {
				if e.Kind == EventNotice {
					once.Do(func() { close(started) })
				}
			}))
		done <- res
	}()
	<-started

	assert.True(t, svc.Busy("acme"))
	_, err := svc.TriggerRun(context.Background(), TriggerRunCommand{TenantID: "acme", Tool: "DSE", File: "main.py"}, nil)
	assert.ErrorIs(t, err, domain.ErrBusy)

	other, err := svc.TriggerRun(context.Background(), TriggerRunCommand{TenantID: "other", Tool: "CBMC", File: "foo.c"}, nil)
	require.NoError(t, err, "other tenants are not blocked")
	assert.Equal(t, tools.StatusSpawnError, other.Status)

	require.NoError(t, os.WriteFile(release, nil, 0o644))
	res := <-done
	assert.Equal(t, tools.StatusSuccess, res.Status)
	assert.Equal(t, []string{"finished"}, res.Lines)
	assert.False(t, svc.Busy("acme"))
}

func TestService_QueriesWithoutHistory(t *testing.T) {
	svc := NewService(newSpyOrchestrator(&spyRunner{}, nil), nil, nil, quiet)
	_, err := svc.Latest(context.Background(), "acme", 5)
	assert.ErrorIs(t, err, ErrNoHistory)
	_, err = svc.Get(context.Background(), "acme", "x")
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestService_ShutdownCancelsRunningTools(t *testing.T) {
	testutil.RequireUnix(t)
	root := t.TempDir()
	testutil.WriteScript(t, root, "Python-Tools/DSE/dse_run.sh", `sleep 30`)

	o := NewOrchestrator(tools.NewRegistry(root), realOrchestrator(root).Runner, nil, quiet)
	svc := NewService(o, nil, nil, quiet)
	svc.TempDir = ""

	started := make(chan struct{})
	var once sync.Once
	done := make(chan TriggerRunResult, 1)
	go func() {
		res, _ := svc.TriggerRun(context.Background(), TriggerRunCommand{TenantID: "acme", Tool: "DSE", File: "main.py"},
			SinkFunc(func(e Event) {
				if e.Kind == EventNotice {
					once.Do(func() { close(started) })
				}
			}))
		done <- res
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	begin := time.Now()
	require.NoError(t, svc.Shutdown(ctx))
	assert.Less(t, time.Since(begin), 5*time.Second)

	res := <-done
	assert.Equal(t, tools.StatusCanceled, res.Status)
	assert.False(t, svc.Busy("acme"))

	_, err := svc.TriggerRun(context.Background(), TriggerRunCommand{TenantID: "other", Tool: "CBMC", File: "foo.c"}, nil)
	assert.ErrorIs(t, err, ErrClosed)
}
