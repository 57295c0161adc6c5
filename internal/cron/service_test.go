package cron

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inventrack/inventrack-backend/pkg/logger"
	"github.com/inventrack/inventrack-backend/pkg/metrics"
)

type fakeLock struct {
	held     bool
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type testJob struct {
	name string
	run  func(ctx context.Context) error
	runs int
}

func (j *testJob) Name() string { return j.name }

func (j *testJob) Run(ctx context.Context) error {
	j.runs++
	if j.run == nil {
		return nil
	}
	return j.run(ctx)
}

func newTestCron(t *testing.T, lock Lock, timeout time.Duration, jobs ...Job) (*Service, *prometheus.Registry, *bytes.Buffer) {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	buf := &bytes.Buffer{}
	svc, err := NewService(ServiceParams{
		Logger:     logger.New(logger.Options{ServiceName: "cron-test", Output: buf}),
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(reg),
		JobTimeout: timeout,
	})
	require.NoError(t, err)
	return svc, reg, buf
}

func TestRunOnceRunsEveryJobDespiteFailures(t *testing.T) {
	ok := &testJob{name: "ok"}
	failing := &testJob{name: "failing", run: func(context.Context) error { return errors.New("boom") }}
	panicking := &testJob{name: "panicking", run: func(context.Context) error { panic("bad state") }}
	after := &testJob{name: "after"}
	lock := &fakeLock{}
	svc, reg, buf := newTestCron(t, lock, time.Second, ok, failing, panicking, after)

	require.NoError(t, svc.RunOnce(context.Background()))

	for _, job := range []*testJob{ok, failing, panicking, after} {
		assert.Equal(t, 1, job.runs, job.name)
	}
	assert.Equal(t, 1, lock.releases)
	assert.False(t, lock.held)
	assert.Contains(t, buf.String(), "panicked: bad state")

	families, err := reg.Gather()
	require.NoError(t, err)
	var failures float64
	for _, family := range families {
		if family.GetName() != "inventrack_job_failure_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			failures += m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(2), failures)
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "job"}
	lock := &fakeLock{held: true}
	svc, _, _ := newTestCron(t, lock, time.Second, job)

	require.NoError(t, svc.RunOnce(context.Background()))
	assert.Zero(t, job.runs)
	assert.Zero(t, lock.releases)
}

func TestRunOnceBoundsJobDuration(t *testing.T) {
	slow := &testJob{name: "slow", run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	svc, reg, buf := newTestCron(t, &fakeLock{}, 20*time.Millisecond, slow)

	require.NoError(t, svc.RunOnce(context.Background()))
	assert.Contains(t, buf.String(), `"timeout":"20ms"`)
	count, err := testutil.GatherAndCount(reg, "inventrack_job_failure_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunStopsOnCancel(t *testing.T) {
	job := &testJob{name: "job"}
	svc, _, _ := newTestCron(t, &fakeLock{}, time.Second, job)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := svc.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, job.runs)
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(ServiceParams{Lock: &fakeLock{}})
	require.Error(t, err)
	_, err = NewService(ServiceParams{Logger: logger.New(logger.Options{Output: &bytes.Buffer{}})})
	require.Error(t, err)
}
