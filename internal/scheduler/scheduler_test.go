package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buffrsign/engine/pkg/schema"
)

// stubRunner records create/run calls and can be told to fail.
type stubRunner struct {
	mu      sync.Mutex
	created []string // document ids
	ran     []string // workflow ids
	fail    error
}

func (r *stubRunner) CreateDocumentWorkflow(_ context.Context, documentID, _, _ string, _ schema.Priority) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return "", r.fail
	}
	r.created = append(r.created, documentID)
	return "wf_" + documentID, nil
}

func (r *stubRunner) Run(_ context.Context, workflowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = append(r.ran, workflowID)
	return nil
}

func (r *stubRunner) calls() (created, ran []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.created...), append([]string(nil), r.ran...)
}

func testScheduler(t *testing.T) (*Scheduler, *stubRunner) {
	t.Helper()
	runner := &stubRunner{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(runner, logger), runner
}

func pastDue(job *Job) *Job {
	past := time.Now().UTC().Add(-time.Minute)
	job.NextRunAt = &past
	return job
}

func TestAddJob_Validation(t *testing.T) {
	s, _ := testScheduler(t)

	require.Error(t, s.AddJob(nil))
	require.Error(t, s.AddJob(&Job{CronExpression: "* * * * *"}))
	require.Error(t, s.AddJob(&Job{ID: "j1", CronExpression: "* * * * *"}))

	err := s.AddJob(&Job{
		ID: "j1", CronExpression: "not a cron",
		DocumentID: "doc-1", UserID: "user-1",
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestAddJob_ComputesNextRunAndRejectsDuplicates(t *testing.T) {
	s, _ := testScheduler(t)

	job := &Job{
		ID: "nightly", CronExpression: "0 2 * * *",
		DocumentID: "doc-1", UserID: "user-1", DocumentType: "contract",
		Enabled: true,
	}
	require.NoError(t, s.AddJob(job))
	require.NotNil(t, job.NextRunAt)
	assert.True(t, job.NextRunAt.After(time.Now().UTC()))

	err := s.AddJob(&Job{
		ID: "nightly", CronExpression: "0 2 * * *",
		DocumentID: "doc-2", UserID: "user-1",
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))
}

func TestTick_RunsDueJobs(t *testing.T) {
	s, runner := testScheduler(t)

	due := &Job{
		ID: "due", CronExpression: "* * * * *",
		DocumentID: "doc-due", UserID: "user-1", DocumentType: "contract",
		Enabled: true,
	}
	require.NoError(t, s.AddJob(due))
	pastDue(due)

	notDue := &Job{
		ID: "later", CronExpression: "0 2 * * *",
		DocumentID: "doc-later", UserID: "user-1",
		Enabled: true,
	}
	require.NoError(t, s.AddJob(notDue))

	disabled := &Job{
		ID: "off", CronExpression: "* * * * *",
		DocumentID: "doc-off", UserID: "user-1",
	}
	require.NoError(t, s.AddJob(disabled))
	pastDue(disabled)

	s.Tick(context.Background())

	created, ran := runner.calls()
	assert.Equal(t, []string{"doc-due"}, created)
	assert.Equal(t, []string{"wf_doc-due"}, ran)

	// The due job was rescheduled and stamped.
	var updated *Job
	for _, j := range s.Jobs() {
		if j.ID == "due" {
			updated = j
		}
	}
	require.NotNil(t, updated)
	assert.Equal(t, "success", updated.LastRunStatus)
	require.NotNil(t, updated.LastRunAt)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.After(*updated.LastRunAt))
}

func TestTick_RecordsRunnerFailure(t *testing.T) {
	s, runner := testScheduler(t)
	runner.fail = errors.New("engine unavailable")

	job := &Job{
		ID: "broken", CronExpression: "* * * * *",
		DocumentID: "doc-1", UserID: "user-1",
		Enabled: true,
	}
	require.NoError(t, s.AddJob(job))
	pastDue(job)

	s.Tick(context.Background())

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "error", jobs[0].LastRunStatus)
}

func TestRemoveJob(t *testing.T) {
	s, _ := testScheduler(t)

	require.NoError(t, s.AddJob(&Job{
		ID: "gone", CronExpression: "* * * * *",
		DocumentID: "doc-1", UserID: "user-1",
	}))
	require.Len(t, s.Jobs(), 1)

	s.RemoveJob("gone")
	assert.Empty(t, s.Jobs())
}

func TestJobs_ReturnsCopies(t *testing.T) {
	s, _ := testScheduler(t)

	require.NoError(t, s.AddJob(&Job{
		ID: "j1", CronExpression: "* * * * *",
		DocumentID: "doc-1", UserID: "user-1",
	}))

	snapshot := s.Jobs()
	snapshot[0].DocumentID = "tampered"

	again := s.Jobs()
	assert.Equal(t, "doc-1", again[0].DocumentID)
}

func TestCalculateNextRun(t *testing.T) {
	s, _ := testScheduler(t)

	from := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	next, err := s.CalculateNextRun("0 2 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC), next)

	_, err = s.CalculateNextRun("nonsense", from)
	require.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s, _ := testScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.Error(t, s.Start(ctx)) // double start
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop()) // idempotent
}
