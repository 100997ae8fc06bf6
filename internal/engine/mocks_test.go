package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/auxprotocol/auxcli/api/schemas"
	"github.com/auxprotocol/auxcli/internal/browser"
	"github.com/auxprotocol/auxcli/internal/browser/static"
)

func ptrTo[T any](v T) *T { return &v }

// newEngineWithServer wires an engine over a pure-Go session pointed at a
// local server, without navigating anywhere yet.
func newEngineWithServer(t *testing.T, handler http.Handler, mutate ...func(*static.Config)) (*Engine, *static.Session, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := static.Config{}
	for _, m := range mutate {
		m(&cfg)
	}
	sess, err := static.New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err, "static session should construct")
	t.Cleanup(func() { _ = sess.Close(context.Background()) })

	eng, err := New(sess, zaptest.NewLogger(t))
	require.NoError(t, err, "engine should construct")
	return eng, sess, srv
}

// newStaticEngine serves one fixed page and navigates to it. Most engine
// tests run against this real DOM; the fake below exists for failure
// injection and call sequencing.
func newStaticEngine(t *testing.T, page string) (*Engine, *static.Session) {
	t.Helper()
	eng, sess, srv := newEngineWithServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	require.NoError(t, sess.Navigate(context.Background(), srv.URL, true), "navigation should succeed")
	return eng, sess
}

func fakeRef(id string, kind schemas.ElementKind) browser.ElementRef {
	return browser.ElementRef{ID: id, Generation: 1, Kind: kind, Visible: true, Enabled: true}
}

// fakeSession is a scripted capability. Behaviors default to empty results;
// tests override the function fields and assert on the recorded calls.
type fakeSession struct {
	mu       sync.Mutex
	gen      uint64
	url      string
	locateFn func(c browser.Criteria) ([]browser.ElementRef, error)
	readFn   func(ref browser.ElementRef, attr string) (string, bool, error)
	actFn    func(ref browser.ElementRef, a browser.Action) error
	navFn    func(rawURL string, waitForLoad bool) error
	snapFn   func() (*browser.Snapshot, error)

	locates []browser.Criteria
	acts    []browser.Action
}

var _ browser.Capability = (*fakeSession)(nil)

func (f *fakeSession) Locate(_ context.Context, c browser.Criteria) ([]browser.ElementRef, error) {
	f.mu.Lock()
	f.locates = append(f.locates, c)
	fn := f.locateFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(c)
}

func (f *fakeSession) Read(_ context.Context, ref browser.ElementRef, attr string) (string, bool, error) {
	f.mu.Lock()
	fn := f.readFn
	f.mu.Unlock()
	if fn == nil {
		return "", false, nil
	}
	return fn(ref, attr)
}

func (f *fakeSession) Act(_ context.Context, ref browser.ElementRef, a browser.Action) error {
	f.mu.Lock()
	f.acts = append(f.acts, a)
	fn := f.actFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ref, a)
}

func (f *fakeSession) Navigate(_ context.Context, rawURL string, waitForLoad bool) error {
	f.mu.Lock()
	fn := f.navFn
	f.mu.Unlock()
	if fn != nil {
		if err := fn(rawURL, waitForLoad); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	f.url = rawURL
	return nil
}

func (f *fakeSession) Snapshot(_ context.Context) (*browser.Snapshot, error) {
	f.mu.Lock()
	fn := f.snapFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn()
}

func (f *fakeSession) CurrentURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url
}

func (f *fakeSession) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen
}

func (f *fakeSession) Close(context.Context) error { return nil }

func (f *fakeSession) actKinds() []browser.ActionKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]browser.ActionKind, len(f.acts))
	for i, a := range f.acts {
		kinds[i] = a.Kind
	}
	return kinds
}

func (f *fakeSession) locateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.locates)
}

func newFakeEngine(t *testing.T, f *fakeSession) *Engine {
	t.Helper()
	eng, err := New(f, zaptest.NewLogger(t))
	require.NoError(t, err)
	return eng
}
