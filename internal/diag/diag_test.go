package diag

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshan-rambhia/leafsync/internal/metrics"
	"github.com/darshan-rambhia/leafsync/internal/status"
	"github.com/darshan-rambhia/leafsync/internal/store"
)

type failingAppender struct{ calls int }

func (f *failingAppender) AppendLog(context.Context, string) error {
	f.calls++
	return errors.New("disk full")
}

func TestReportFailure_WritesEverywhere(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	m := metrics.New()
	st := status.New(time.Now())
	r := NewStoreReporter(s, m, st)

	r.ReportFailure(context.Background(), OpSubmit, errors.New("maintenance window"))

	entries, err := s.ListLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "submit: maintenance window", entries[0].Message)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failures.WithLabelValues(OpSubmit)))

	snap := st.Snapshot()
	require.NotNil(t, snap.LastFailure)
	assert.Equal(t, OpSubmit, snap.LastFailure.Op)
	assert.Equal(t, "maintenance window", snap.LastFailure.Message)
}

func TestReportFailure_CancelledContextStillPersists(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewStoreReporter(s, nil, nil).ReportFailure(ctx, OpCollect, errors.New("sensor unreachable"))

	entries, err := s.ListLogs(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReportFailure_AppendErrorIsSwallowed(t *testing.T) {
	logs := &failingAppender{}
	r := NewStoreReporter(logs, nil, nil)

	assert.NotPanics(t, func() {
		r.ReportFailure(context.Background(), OpPersist, errors.New("boom"))
	})
	assert.Equal(t, 1, logs.calls)
}
