package async

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/hydrotrace/errors"
)

func TestJobRun_Transitions(t *testing.T) {
	ctx := context.Background()
	job, err := NewJob("seg_0", "/n.gdb/d/n", "/w.gdb")
	require.NoError(t, err)
	out := newOutcome(job)
	em := &recordingEmitter{}
	run := newJobRun(job, out, em, zap.NewNop().Sugar())

	require.NoError(t, run.Transition(ctx, StateIsolating))
	err = run.Transition(ctx, StateJoining)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
	assert.Equal(t, StateIsolating, run.State())
	assert.Equal(t, StateIsolating, out.State)

	require.NoError(t, run.Transition(ctx, StateCleaningUp))
	require.NoError(t, run.Transition(ctx, StateFailed))
	assert.Error(t, run.Transition(ctx, StateDone))

	require.Len(t, em.states, 3)
	assert.NotNil(t, em.states[0].StartedAt)
	assert.Nil(t, em.states[0].FinishedAt)
	assert.NotNil(t, em.states[2].FinishedAt)
}

func TestJobRun_FailIsIdempotent(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.DebugLevel)
	job, err := NewJob("seg_4", "/n.gdb/d/n", "/w.gdb")
	require.NoError(t, err)
	out := newOutcome(job)
	em := &recordingEmitter{}
	run := newJobRun(job, out, em, zap.New(core).Sugar())

	require.NoError(t, run.Transition(ctx, StateIsolating))
	run.Fail(ctx, nil)
	assert.False(t, run.Failed())

	first := errors.New("scratch full")
	run.Fail(ctx, first)
	run.Fail(ctx, errors.New("second"))

	assert.True(t, run.Failed())
	assert.Equal(t, first, out.Err)
	assert.Equal(t, StateIsolating, out.Stage)
	require.Len(t, em.failures, 1)
	assert.Equal(t, "seg_4", em.failures[0].Subject)
	assert.Equal(t, "scratch full", em.failures[0].Detail)

	failedLogs := logs.FilterMessage("Job failed").All()
	require.Len(t, failedLogs, 1)
	assert.Equal(t, "seg_4", failedLogs[0].ContextMap()["seed"])
}

func TestJobRun_FailRecordsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, err := NewJob("seg_0", "/n.gdb/d/n", "/w.gdb")
	require.NoError(t, err)
	em := &recordingEmitter{}
	run := newJobRun(job, newOutcome(job), em, nil)

	run.Fail(ctx, ctx.Err())
	assert.Len(t, em.failures, 1)
}
