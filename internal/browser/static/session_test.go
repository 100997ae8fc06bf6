package static

import (
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/auxprotocol/auxcli/api/schemas"
	"github.com/auxprotocol/auxcli/internal/browser"
)

func newTestSession(t *testing.T, mutate ...func(*Config)) *Session {
	t.Helper()
	cfg := Config{
		UserAgent:         "auxcli-test",
		NavigationTimeout: 5 * time.Second,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func serveHTML(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return serve(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	}))
}

func serve(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func locateOne(t *testing.T, s *Session, criteria browser.Criteria) browser.ElementRef {
	t.Helper()
	refs, err := s.Locate(context.Background(), criteria)
	require.NoError(t, err)
	require.Len(t, refs, 1, "expected exactly one match for %+v", criteria)
	return refs[0]
}

func TestStaticSession(t *testing.T) {
	ctx := context.Background()

	t.Run("NavigateAndLocate", func(t *testing.T) {
		server := serveHTML(t, `<html><head><title>Login</title></head><body>
			<a href="/next">Next page</a>
			<button id="go">Go</button>
			<input type="text" name="user" placeholder="Username">
			<input type="password" name="pass">
		</body></html>`)
		session := newTestSession(t)

		require.NoError(t, session.Navigate(ctx, server.URL, true))
		assert.Equal(t, server.URL, session.CurrentURL())
		assert.Equal(t, uint64(1), session.Generation())

		refs, err := session.Locate(ctx, browser.Criteria{Selector: "input"})
		require.NoError(t, err)
		require.Len(t, refs, 2)
		assert.Equal(t, schemas.KindTextInput, refs[0].Kind)

		refs, err = session.Locate(ctx, browser.Criteria{Kind: schemas.KindButton})
		require.NoError(t, err)
		require.Len(t, refs, 1)

		refs, err = session.Locate(ctx, browser.Criteria{Text: "next page"})
		require.NoError(t, err)
		require.NotEmpty(t, refs, "text matching should be case-insensitive")

		refs, err = session.Locate(ctx, browser.Criteria{Selector: "#missing"})
		require.NoError(t, err, "no matches is not an error")
		assert.Empty(t, refs)

		_, err = session.Locate(ctx, browser.Criteria{Selector: "b[[["})
		require.Error(t, err, "malformed selectors are hard errors")
	})

	t.Run("LocateReturnsDocumentOrder", func(t *testing.T) {
		server := serveHTML(t, `<html><body>
			<button id="first">A</button>
			<div><button id="second">B</button></div>
			<button id="third">C</button>
		</body></html>`)
		session := newTestSession(t)
		require.NoError(t, session.Navigate(ctx, server.URL, true))

		refs, err := session.Locate(ctx, browser.Criteria{Selector: "button"})
		require.NoError(t, err)
		require.Len(t, refs, 3)

		var texts []string
		for _, ref := range refs {
			text, ok, err := session.Read(ctx, ref, schemas.AttributeText)
			require.NoError(t, err)
			require.True(t, ok)
			texts = append(texts, text)
		}
		assert.Equal(t, []string{"A", "B", "C"}, texts)
	})

	t.Run("ReadTextValueAndAttributes", func(t *testing.T) {
		server := serveHTML(t, `<html><body>
			<p id="msg">  Hello   <b>world</b>  </p>
			<input id="field" type="text" value="preset">
			<textarea id="area">multi
line</textarea>
			<select id="pick"><option value="a">Alpha</option><option value="b" selected>Beta</option></select>
			<a id="link" href="/docs">Docs</a>
		</body></html>`)
		session := newTestSession(t)
		require.NoError(t, session.Navigate(ctx, server.URL, true))

		text, ok, err := session.Read(ctx, locateOne(t, session, browser.Criteria{Selector: "#msg"}), schemas.AttributeText)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "Hello world", text, "whitespace should collapse")

		value, ok, err := session.Read(ctx, locateOne(t, session, browser.Criteria{Selector: "#field"}), schemas.AttributeValue)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "preset", value)

		value, _, err = session.Read(ctx, locateOne(t, session, browser.Criteria{Selector: "#area"}), schemas.AttributeValue)
		require.NoError(t, err)
		assert.Equal(t, "multi line", value)

		value, _, err = session.Read(ctx, locateOne(t, session, browser.Criteria{Selector: "#pick"}), schemas.AttributeValue)
		require.NoError(t, err)
		assert.Equal(t, "b", value, "selected option wins")

		href, ok, err := session.Read(ctx, locateOne(t, session, browser.Criteria{Selector: "#link"}), "href")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "/docs", href)

		_, ok, err = session.Read(ctx, locateOne(t, session, browser.Criteria{Selector: "#link"}), "data-missing")
		require.NoError(t, err, "absent attributes are not errors")
		assert.False(t, ok)
	})

	t.Run("TypeClearAndSelect", func(t *testing.T) {
		server := serveHTML(t, `<html><body>
			<input id="name" type="text" value="old">
			<textarea id="bio">old bio</textarea>
			<select id="color">
				<option value="r">Red</option>
				<optgroup label="cool"><option value="b">Blue</option></optgroup>
			</select>
		</body></html>`)
		session := newTestSession(t)
		require.NoError(t, session.Navigate(ctx, server.URL, true))

		name := locateOne(t, session, browser.Criteria{Selector: "#name"})
		require.NoError(t, session.Act(ctx, name, browser.Action{Kind: browser.TypeText, Value: "alice"}))
		value, _, err := session.Read(ctx, name, schemas.AttributeValue)
		require.NoError(t, err)
		assert.Equal(t, "alice", value)

		require.NoError(t, session.Act(ctx, name, browser.Action{Kind: browser.Clear}))
		value, _, err = session.Read(ctx, name, schemas.AttributeValue)
		require.NoError(t, err)
		assert.Empty(t, value)

		bio := locateOne(t, session, browser.Criteria{Selector: "#bio"})
		require.NoError(t, session.Act(ctx, bio, browser.Action{Kind: browser.TypeText, Value: "new bio"}))
		value, _, err = session.Read(ctx, bio, schemas.AttributeValue)
		require.NoError(t, err)
		assert.Equal(t, "new bio", value)

		color := locateOne(t, session, browser.Criteria{Selector: "#color"})
		require.NoError(t, session.Act(ctx, color, browser.Action{Kind: browser.SelectOption, Value: "b"}),
			"options inside optgroups should be reachable")
		value, _, err = session.Read(ctx, color, schemas.AttributeValue)
		require.NoError(t, err)
		assert.Equal(t, "b", value)

		require.NoError(t, session.Act(ctx, color, browser.Action{Kind: browser.SelectOption, Value: "Red"}),
			"label matching is the fallback")
		value, _, err = session.Read(ctx, color, schemas.AttributeValue)
		require.NoError(t, err)
		assert.Equal(t, "r", value)

		err = session.Act(ctx, color, browser.Action{Kind: browser.SelectOption, Value: "Chartreuse"})
		require.Error(t, err)
		assert.ErrorIs(t, err, browser.ErrNotInteractable)
	})

	t.Run("CheckboxAndRadio", func(t *testing.T) {
		server := serveHTML(t, `<html><body><form>
			<input id="opt" type="checkbox" name="opt">
			<input id="r1" type="radio" name="size" value="s" checked>
			<input id="r2" type="radio" name="size" value="l">
		</form></body></html>`)
		session := newTestSession(t)
		require.NoError(t, session.Navigate(ctx, server.URL, true))

		box := locateOne(t, session, browser.Criteria{Selector: "#opt"})
		require.NoError(t, session.Act(ctx, box, browser.Action{Kind: browser.Click}))
		_, ok, err := session.Read(ctx, box, "checked")
		require.NoError(t, err)
		assert.True(t, ok, "click should check the box")

		require.NoError(t, session.Act(ctx, box, browser.Action{Kind: browser.Click}))
		_, ok, err = session.Read(ctx, box, "checked")
		require.NoError(t, err)
		assert.False(t, ok, "second click should uncheck")

		r2 := locateOne(t, session, browser.Criteria{Selector: "#r2"})
		require.NoError(t, session.Act(ctx, r2, browser.Action{Kind: browser.Click}))
		_, ok, err = session.Read(ctx, r2, "checked")
		require.NoError(t, err)
		assert.True(t, ok)
		r1 := locateOne(t, session, browser.Criteria{Selector: "#r1"})
		_, ok, err = session.Read(ctx, r1, "checked")
		require.NoError(t, err)
		assert.False(t, ok, "radio groups are exclusive")
	})

	t.Run("ClickAnchorNavigates", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<html><body><a id="next" href="/second">Continue</a></body></html>`)
		})
		mux.HandleFunc("/second", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<html><head><title>Second</title></head><body>Arrived</body></html>`)
		})
		server := serve(t, mux)
		session := newTestSession(t)
		require.NoError(t, session.Navigate(ctx, server.URL, true))

		link := locateOne(t, session, browser.Criteria{Selector: "#next"})
		require.NoError(t, session.Act(ctx, link, browser.Action{Kind: browser.Click}))
		assert.Equal(t, server.URL+"/second", session.CurrentURL())
		assert.Equal(t, uint64(2), session.Generation())
	})

	t.Run("ClickSubmitSerializesForm", func(t *testing.T) {
		submitted := make(chan map[string]string, 1)
		mux := http.NewServeMux()
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<html><body><form action="/submit" method="POST">
				<input type="text" name="user" value="alice">
				<input type="checkbox" name="tos" checked>
				<input type="checkbox" name="spam">
				<input type="hidden" name="token" value="t0k3n">
				<select name="plan"><option value="free">Free</option><option value="pro" selected>Pro</option></select>
				<textarea name="notes">hi there</textarea>
				<button type="submit" id="send">Send</button>
			</form></body></html>`)
		})
		mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
			_ = r.ParseForm()
			got := map[string]string{}
			for k := range r.PostForm {
				got[k] = r.PostForm.Get(k)
			}
			submitted <- got
			fmt.Fprint(w, `<html><body>Thanks</body></html>`)
		})
		server := serve(t, mux)
		session := newTestSession(t)
		require.NoError(t, session.Navigate(ctx, server.URL, true))

		btn := locateOne(t, session, browser.Criteria{Selector: "#send"})
		require.NoError(t, session.Act(ctx, btn, browser.Action{Kind: browser.Click}))

		select {
		case got := <-submitted:
			assert.Equal(t, "alice", got["user"])
			assert.Equal(t, "on", got["tos"])
			assert.NotContains(t, got, "spam", "unchecked boxes are not successful controls")
			assert.Equal(t, "t0k3n", got["token"])
			assert.Equal(t, "pro", got["plan"])
			assert.Equal(t, "hi there", got["notes"])
		case <-time.After(2 * time.Second):
			t.Fatal("form submission never reached the server")
		}
		assert.Equal(t, server.URL+"/submit", session.CurrentURL())
	})

	t.Run("RedirectsFollowed", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/hop", http.StatusFound)
		})
		mux.HandleFunc("/hop", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/end", http.StatusMovedPermanently)
		})
		mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<html><head><title>End</title></head><body>Done</body></html>`)
		})
		server := serve(t, mux)
		session := newTestSession(t)

		require.NoError(t, session.Navigate(ctx, server.URL+"/start", true))
		assert.Equal(t, server.URL+"/end", session.CurrentURL())
	})

	t.Run("RedirectLoopAborts", func(t *testing.T) {
		server := serve(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/again", http.StatusFound)
		}))
		session := newTestSession(t)

		err := session.Navigate(ctx, server.URL, true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redirects")
	})

	t.Run("GzipResponseDecoded", func(t *testing.T) {
		server := serve(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Header().Set("Content-Encoding", "gzip")
			zw := gzip.NewWriter(w)
			fmt.Fprint(zw, `<html><body><p id="p">compressed greetings</p></body></html>`)
			_ = zw.Close()
		}))
		session := newTestSession(t)
		require.NoError(t, session.Navigate(ctx, server.URL, true))

		text, _, err := session.Read(ctx, locateOne(t, session, browser.Criteria{Selector: "#p"}), schemas.AttributeText)
		require.NoError(t, err)
		assert.Equal(t, "compressed greetings", text)
	})

	t.Run("DomainPolicy", func(t *testing.T) {
		server := serveHTML(t, `<html><body>ok</body></html>`)

		blocked := newTestSession(t, func(cfg *Config) {
			cfg.BlockedDomains = []string{"127.0.0.1"}
		})
		err := blocked.Navigate(ctx, server.URL, true)
		require.Error(t, err)
		assert.ErrorIs(t, err, browser.ErrNavigationBlocked)

		allowListed := newTestSession(t, func(cfg *Config) {
			cfg.AllowedDomains = []string{"example.com"}
		})
		err = allowListed.Navigate(ctx, server.URL, true)
		require.Error(t, err)
		assert.ErrorIs(t, err, browser.ErrNavigationBlocked)

		open := newTestSession(t, func(cfg *Config) {
			cfg.AllowedDomains = []string{"127.0.0.1"}
		})
		require.NoError(t, open.Navigate(ctx, server.URL, true))
	})

	t.Run("StaleRefsAcrossNavigations", func(t *testing.T) {
		server := serveHTML(t, `<html><body><button id="b">Press</button></body></html>`)
		session := newTestSession(t)
		require.NoError(t, session.Navigate(ctx, server.URL, true))

		ref := locateOne(t, session, browser.Criteria{Selector: "#b"})
		require.NoError(t, session.Navigate(ctx, server.URL, true))

		_, _, err := session.Read(ctx, ref, schemas.AttributeText)
		require.Error(t, err)
		assert.ErrorIs(t, err, browser.ErrStaleElement)

		err = session.Act(ctx, ref, browser.Action{Kind: browser.Click})
		require.Error(t, err)
		assert.ErrorIs(t, err, browser.ErrStaleElement)
	})

	t.Run("SnapshotIsImmutable", func(t *testing.T) {
		server := serveHTML(t, `<html><body><input id="f" type="text" value="before"></body></html>`)
		session := newTestSession(t)
		require.NoError(t, session.Navigate(ctx, server.URL, true))

		before, err := session.Snapshot(ctx)
		require.NoError(t, err)

		field := locateOne(t, session, browser.Criteria{Selector: "#f"})
		require.NoError(t, session.Act(ctx, field, browser.Action{Kind: browser.TypeText, Value: "after"}))

		val, _ := before.Doc.Find("#f").Attr("value")
		assert.Equal(t, "before", val, "old snapshots must not see later typing")

		after, err := session.Snapshot(ctx)
		require.NoError(t, err)
		val, _ = after.Doc.Find("#f").Attr("value")
		assert.Equal(t, "after", val)
		assert.Equal(t, session.Generation(), after.Generation)
	})

	t.Run("DisabledControlsRejectActions", func(t *testing.T) {
		server := serveHTML(t, `<html><body>
			<button id="b" disabled>Nope</button>
			<fieldset disabled><input id="f" type="text"></fieldset>
		</body></html>`)
		session := newTestSession(t)
		require.NoError(t, session.Navigate(ctx, server.URL, true))

		err := session.Act(ctx, locateOne(t, session, browser.Criteria{Selector: "#b"}), browser.Action{Kind: browser.Click})
		require.Error(t, err)
		assert.ErrorIs(t, err, browser.ErrNotInteractable)

		ref := locateOne(t, session, browser.Criteria{Selector: "#f"})
		assert.False(t, ref.Enabled, "fieldset disabling should propagate")
		err = session.Act(ctx, ref, browser.Action{Kind: browser.TypeText, Value: "x"})
		require.Error(t, err)
		assert.ErrorIs(t, err, browser.ErrNotInteractable)
	})

	t.Run("VisibilityHeuristics", func(t *testing.T) {
		server := serveHTML(t, `<html><body>
			<button id="shown">A</button>
			<button id="styled" style="display: none">B</button>
			<div hidden><button id="nested">C</button></div>
			<input id="ghost" type="hidden" value="x">
		</body></html>`)
		session := newTestSession(t)
		require.NoError(t, session.Navigate(ctx, server.URL, true))

		assert.True(t, locateOne(t, session, browser.Criteria{Selector: "#shown"}).Visible)
		assert.False(t, locateOne(t, session, browser.Criteria{Selector: "#styled"}).Visible)
		assert.False(t, locateOne(t, session, browser.Criteria{Selector: "#nested"}).Visible)
		assert.False(t, locateOne(t, session, browser.Criteria{Selector: "#ghost"}).Visible)
	})

	t.Run("NoOpActionsSucceed", func(t *testing.T) {
		server := serveHTML(t, `<html><body><button id="b">Press</button></body></html>`)
		session := newTestSession(t)
		require.NoError(t, session.Navigate(ctx, server.URL, true))

		ref := locateOne(t, session, browser.Criteria{Selector: "#b"})
		for _, kind := range []browser.ActionKind{browser.Hover, browser.ScrollIntoView, browser.Focus, browser.Blur} {
			assert.NoError(t, session.Act(ctx, ref, browser.Action{Kind: kind}), "action %s", kind)
		}
	})

	t.Run("RelativeURLNeedsAPage", func(t *testing.T) {
		session := newTestSession(t)
		err := session.Navigate(ctx, "/somewhere", true)
		require.Error(t, err)
	})
}
