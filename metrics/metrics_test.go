package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/isdmx/coderun/sandbox"
)

func TestRecorder(t *testing.T) {
	r := NewRecorder()

	before := testutil.ToFloat64(ExecutionsTotal.WithLabelValues("python", string(sandbox.UserCodeFailure)))
	r.Observe("python", sandbox.UserCodeFailure, 1500*time.Millisecond)
	after := testutil.ToFloat64(ExecutionsTotal.WithLabelValues("python", string(sandbox.UserCodeFailure)))
	assert.InDelta(t, 1, after-before, 0)

	active := testutil.ToFloat64(WorkspacesActive)
	r.WorkspaceOpened()
	r.WorkspaceOpened()
	assert.InDelta(t, active+2, testutil.ToFloat64(WorkspacesActive), 0)
	r.WorkspaceClosed()
	r.WorkspaceClosed()
	assert.InDelta(t, active, testutil.ToFloat64(WorkspacesActive), 0)
}

func TestCollectorsRegistered(t *testing.T) {
	ExecutionDuration.WithLabelValues("java").Observe(0.2)
	count, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "coderun_execution_duration_seconds")
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, count, 1)
}
