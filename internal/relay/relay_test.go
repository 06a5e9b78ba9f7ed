package relay

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/darshan-rambhia/leafsync/internal/remote"
	"github.com/darshan-rambhia/leafsync/internal/store"
)

// ---------------------------------------------------------------------------
// Test doubles shared by the pipeline and reconciler tests
// ---------------------------------------------------------------------------

type fakeTokens struct {
	token string
	err   error
	calls atomic.Int32
}

func (f *fakeTokens) Token(context.Context) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

type fakeRemote struct {
	mu   sync.Mutex
	subs []remote.Submission
	// fail decides the result of each submission; nil accepts everything.
	fail func(sub remote.Submission) error
}

func (f *fakeRemote) SubmitReading(_ context.Context, sub remote.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub)
	if f.fail != nil {
		return f.fail(sub)
	}
	return nil
}

func (f *fakeRemote) submissions() []remote.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remote.Submission(nil), f.subs...)
}

type report struct {
	op  string
	err error
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []report
}

func (r *recordingReporter) ReportFailure(_ context.Context, op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{op: op, err: err})
}

func (r *recordingReporter) all() []report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]report(nil), r.reports...)
}

func newTestStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type testEnv struct {
	store    *store.Store
	tokens   *fakeTokens
	remote   *fakeRemote
	reporter *recordingReporter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{
		store:    newTestStore(t),
		tokens:   &fakeTokens{token: "tok"},
		remote:   &fakeRemote{},
		reporter: &recordingReporter{},
	}
}

func (e *testEnv) deps() Deps {
	return Deps{
		Store:    e.store,
		Tokens:   e.tokens,
		Remote:   e.remote,
		Reporter: e.reporter,
		ClientID: "dev-1",
	}
}
