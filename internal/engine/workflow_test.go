package engine

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auxprotocol/auxcli/api/schemas"
	"github.com/auxprotocol/auxcli/internal/browser"
	"github.com/auxprotocol/auxcli/internal/browser/static"
)

const workflowStartPage = `<!DOCTYPE html>
<html><head><title>Start</title></head><body>
<input name="q" id="q" type="text">
<a id="next" href="/two">Continue</a>
</body></html>`

const workflowSecondPage = `<!DOCTYPE html>
<html><head><title>Second</title></head><body>
<div id="arrived">Welcome</div>
</body></html>`

func workflowServer() http.Handler {
	page := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(body))
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/start", page(workflowStartPage))
	mux.HandleFunc("/two", page(workflowSecondPage))
	mux.HandleFunc("/hop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/start", http.StatusFound)
	})
	return mux
}

func TestRunWorkflow(t *testing.T) {
	t.Run("steps run in order and report one outcome each", func(t *testing.T) {
		eng, sess, srv := newEngineWithServer(t, workflowServer())

		res, err := eng.RunWorkflow(context.Background(), schemas.WorkflowRequest{
			Steps: []schemas.WorkflowStep{
				{Action: schemas.ActionNavigate, URL: srv.URL + "/start"},
				{Action: schemas.ActionType, Selector: "#q", Value: "hello"},
				{Action: schemas.ActionClick, Selector: "#next"},
				{Action: schemas.ActionWait, Wait: &schemas.WaitRequest{
					Condition: schemas.Condition{Kind: schemas.ConditionAppear, Selector: "#arrived"},
				}},
				{Action: schemas.ActionExtract, Rules: map[string]schemas.ExtractionRule{
					"title": {Selector: "title"},
				}},
			},
		})
		require.NoError(t, err)
		require.Len(t, res.Steps, 5)
		assert.False(t, res.Aborted)

		for i, step := range res.Steps {
			assert.Equal(t, i, step.Index)
			assert.True(t, step.Succeeded, "step %d (%s) should succeed: %s", i, step.Action, step.Error)
			assert.False(t, step.Skipped)
		}

		nav, ok := res.Steps[0].Output.(map[string]any)
		require.True(t, ok, "navigate output carries the landing url")
		assert.Equal(t, srv.URL+"/start", nav["url"])

		extracted, ok := res.Steps[4].Output.(*schemas.ExtractResult)
		require.True(t, ok)
		assert.Equal(t, "Second", extracted.Data["title"], "extraction sees the page the click landed on")

		assert.Equal(t, srv.URL+"/two", sess.CurrentURL())
	})

	t.Run("navigate output reports the landing url after redirects", func(t *testing.T) {
		eng, _, srv := newEngineWithServer(t, workflowServer())

		res, err := eng.RunWorkflow(context.Background(), schemas.WorkflowRequest{
			Steps: []schemas.WorkflowStep{{Action: schemas.ActionNavigate, URL: srv.URL + "/hop"}},
		})
		require.NoError(t, err)
		nav := res.Steps[0].Output.(map[string]any)
		assert.Equal(t, srv.URL+"/start", nav["url"])
	})

	t.Run("false gate skips without failing or aborting", func(t *testing.T) {
		eng, sess, srv := newEngineWithServer(t, workflowServer())
		require.NoError(t, sess.Navigate(context.Background(), srv.URL+"/start", true))

		res, err := eng.RunWorkflow(context.Background(), schemas.WorkflowRequest{
			Steps: []schemas.WorkflowStep{
				{
					Action: schemas.ActionClick, Selector: "#next",
					Condition: &schemas.Condition{Kind: schemas.ConditionAppear, Selector: "#no-such-element"},
				},
				{Action: schemas.ActionType, Selector: "#q", Value: "still running"},
			},
		})
		require.NoError(t, err)
		assert.True(t, res.Steps[0].Skipped)
		assert.False(t, res.Steps[0].Succeeded)
		assert.Empty(t, res.Steps[0].Reason, "a gate skip is not a failure")
		assert.True(t, res.Steps[1].Succeeded, "later steps still run")
		assert.False(t, res.Aborted)
		assert.Equal(t, srv.URL+"/start", sess.CurrentURL(), "the gated click never fired")
	})

	t.Run("true gate lets the step run", func(t *testing.T) {
		eng, sess, srv := newEngineWithServer(t, workflowServer())
		require.NoError(t, sess.Navigate(context.Background(), srv.URL+"/start", true))

		res, err := eng.RunWorkflow(context.Background(), schemas.WorkflowRequest{
			Steps: []schemas.WorkflowStep{{
				Action: schemas.ActionClick, Selector: "#next",
				Condition: &schemas.Condition{Kind: schemas.ConditionAppear, Selector: "#q"},
			}},
		})
		require.NoError(t, err)
		assert.True(t, res.Steps[0].Succeeded)
		assert.Equal(t, srv.URL+"/two", sess.CurrentURL())
	})

	t.Run("failure aborts and marks every remaining step skipped", func(t *testing.T) {
		eng, sess, srv := newEngineWithServer(t, workflowServer())
		require.NoError(t, sess.Navigate(context.Background(), srv.URL+"/start", true))

		res, err := eng.RunWorkflow(context.Background(), schemas.WorkflowRequest{
			Steps: []schemas.WorkflowStep{
				{Action: schemas.ActionClick, Selector: "#missing"},
				{Action: schemas.ActionType, Selector: "#q", Value: "never"},
				{Action: schemas.ActionNavigate, URL: srv.URL + "/two"},
			},
		})
		require.NoError(t, err, "an aborted run is still a result")
		require.Len(t, res.Steps, 3)
		assert.True(t, res.Aborted)

		assert.False(t, res.Steps[0].Succeeded)
		assert.Equal(t, schemas.ReasonNoMatch, res.Steps[0].Reason)
		for _, later := range res.Steps[1:] {
			assert.True(t, later.Skipped)
			assert.Equal(t, schemas.ReasonAbortedByPolicy, later.Reason)
		}
		assert.EqualValues(t, 1, sess.Generation(), "no skipped step may have side effects")
	})

	t.Run("continue_on_error keeps going", func(t *testing.T) {
		eng, sess, srv := newEngineWithServer(t, workflowServer())
		require.NoError(t, sess.Navigate(context.Background(), srv.URL+"/start", true))

		res, err := eng.RunWorkflow(context.Background(), schemas.WorkflowRequest{
			ContinueOnError: true,
			Steps: []schemas.WorkflowStep{
				{Action: schemas.ActionClick, Selector: "#missing"},
				{Action: schemas.ActionType, Selector: "#q", Value: "ran anyway"},
			},
		})
		require.NoError(t, err)
		assert.False(t, res.Aborted)
		assert.False(t, res.Steps[0].Succeeded)
		assert.True(t, res.Steps[1].Succeeded)
	})

	t.Run("wait step failing its budget fails the step", func(t *testing.T) {
		eng, sess, srv := newEngineWithServer(t, workflowServer())
		require.NoError(t, sess.Navigate(context.Background(), srv.URL+"/start", true))

		res, err := eng.RunWorkflow(context.Background(), schemas.WorkflowRequest{
			Steps: []schemas.WorkflowStep{{
				Action: schemas.ActionWait,
				Wait: &schemas.WaitRequest{
					Condition: schemas.Condition{Kind: schemas.ConditionAppear, Selector: "#ghost"},
					Timeout:   ptrTo(schemas.Seconds(0)),
				},
			}},
		})
		require.NoError(t, err)
		step := res.Steps[0]
		assert.False(t, step.Succeeded)
		assert.Equal(t, schemas.ReasonTimedOut, step.Reason)
		waited, ok := step.Output.(*schemas.WaitResult)
		require.True(t, ok, "the wait result is attached for diagnosis")
		assert.Equal(t, schemas.WaitTimedOut, waited.Status)
	})

	t.Run("blocked navigation reports a policy violation", func(t *testing.T) {
		eng, _, srv := newEngineWithServer(t, workflowServer(), func(c *static.Config) {
			c.BlockedDomains = []string{"127.0.0.1"}
		})

		res, err := eng.RunWorkflow(context.Background(), schemas.WorkflowRequest{
			Steps: []schemas.WorkflowStep{
				{Action: schemas.ActionNavigate, URL: srv.URL + "/start"},
				{Action: schemas.ActionClick, Selector: "#next"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, schemas.ReasonPolicyViolation, res.Steps[0].Reason)
		assert.True(t, res.Steps[1].Skipped)
		assert.True(t, res.Aborted)
	})

	t.Run("malformed steps fail the whole call before dispatch", func(t *testing.T) {
		fake := &fakeSession{}
		eng := newFakeEngine(t, fake)

		_, err := eng.RunWorkflow(context.Background(), schemas.WorkflowRequest{
			Steps: []schemas.WorkflowStep{
				{Action: schemas.ActionClick, Selector: "#fine"},
				{Action: schemas.ActionNavigate},
			},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "step 1")
		assert.Zero(t, fake.locateCount(), "validation failures must precede any dispatch")
	})

	t.Run("empty workflow is rejected", func(t *testing.T) {
		eng := newFakeEngine(t, &fakeSession{})
		_, err := eng.RunWorkflow(context.Background(), schemas.WorkflowRequest{})
		require.Error(t, err)
	})

	t.Run("stale action target is re-resolved once", func(t *testing.T) {
		var acts int
		fake := &fakeSession{
			locateFn: func(c browser.Criteria) ([]browser.ElementRef, error) {
				return []browser.ElementRef{fakeRef("btn-1", schemas.KindButton)}, nil
			},
			actFn: func(browser.ElementRef, browser.Action) error {
				acts++
				if acts == 1 {
					return browser.ErrStaleElement
				}
				return nil
			},
		}
		eng := newFakeEngine(t, fake)

		res, err := eng.RunWorkflow(context.Background(), schemas.WorkflowRequest{
			Steps: []schemas.WorkflowStep{{Action: schemas.ActionClick, Selector: "#btn"}},
		})
		require.NoError(t, err)
		assert.True(t, res.Steps[0].Succeeded)
		assert.Equal(t, 2, fake.locateCount())
	})

	t.Run("per-step timeout bounds a wait", func(t *testing.T) {
		eng, sess, srv := newEngineWithServer(t, workflowServer())
		require.NoError(t, sess.Navigate(context.Background(), srv.URL+"/start", true))

		res, err := eng.RunWorkflow(context.Background(), schemas.WorkflowRequest{
			Steps: []schemas.WorkflowStep{{
				Action:  schemas.ActionWait,
				Timeout: ptrTo(schemas.Seconds(0.08)),
				Wait: &schemas.WaitRequest{
					Condition:    schemas.Condition{Kind: schemas.ConditionAppear, Selector: "#ghost"},
					Timeout:      ptrTo(schemas.Seconds(30)),
					PollInterval: ptrTo(schemas.Seconds(0.05)),
				},
			}},
		})
		require.NoError(t, err)
		assert.False(t, res.Steps[0].Succeeded)
		assert.Equal(t, schemas.ReasonTimedOut, res.Steps[0].Reason)
	})
}
