package cmd

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auxprotocol/auxcli/api/schemas"
)

func workflowDoc(url string) string {
	return fmt.Sprintf(`{
		"steps": [
			{"action": "navigate", "url": %q},
			{"action": "extract", "rules": {"title": {"selector": "h1"}}}
		]
	}`, url)
}

func TestWorkflowCommand_SingleFile(t *testing.T) {
	srv := serveHTML(t, `<html><body><h1>Dashboard</h1></body></html>`)
	file := writeTempFile(t, "flow.json", workflowDoc(srv.URL))

	out, err := runCommandToFile(t, "workflow", file)
	require.NoError(t, err)

	var res schemas.WorkflowResult
	require.NoError(t, jsonAPI.Unmarshal([]byte(out), &res))
	require.Len(t, res.Steps, 2)
	assert.False(t, res.Aborted)
	for _, step := range res.Steps {
		assert.True(t, step.Succeeded, "step %d should succeed", step.Index)
	}
}

func TestWorkflowCommand_ParallelFiles(t *testing.T) {
	var visits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		visits.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body><h1>Report</h1></body></html>`)
	}))
	t.Cleanup(srv.Close)

	fileA := writeTempFile(t, "a.json", workflowDoc(srv.URL))
	fileB := writeTempFile(t, "b.json", workflowDoc(srv.URL))

	out, err := runCommandToFile(t, "workflow", fileA, fileB, "--parallel", "2")
	require.NoError(t, err)

	var outcomes []workflowFileOutcome
	require.NoError(t, jsonAPI.Unmarshal([]byte(out), &outcomes))
	require.Len(t, outcomes, 2)
	for _, oc := range outcomes {
		assert.Empty(t, oc.Error)
		require.NotNil(t, oc.Result)
		assert.False(t, oc.Result.Aborted)
	}
	assert.Equal(t, int64(2), visits.Load(), "each file runs over its own session")
}

func TestWorkflowCommand_AbortedRunIsStillAResult(t *testing.T) {
	srv := serveHTML(t, `<html><body><h1>Empty</h1></body></html>`)
	file := writeTempFile(t, "flow.json", fmt.Sprintf(`{
		"steps": [
			{"action": "navigate", "url": %q},
			{"action": "click", "selector": "#missing"},
			{"action": "extract", "rules": {"title": {"selector": "h1"}}}
		]
	}`, srv.URL))

	out, err := runCommandToFile(t, "workflow", file)
	require.NoError(t, err, "a failing step aborts the run but the result is still printed")

	var res schemas.WorkflowResult
	require.NoError(t, jsonAPI.Unmarshal([]byte(out), &res))
	assert.True(t, res.Aborted)
	require.Len(t, res.Steps, 3)
	assert.False(t, res.Steps[1].Succeeded)
	assert.Equal(t, schemas.ReasonNoMatch, res.Steps[1].Reason)
	assert.True(t, res.Steps[2].Skipped)
}

func TestWorkflowCommand_MissingFile(t *testing.T) {
	_, err := runCommand(t, "workflow", "/nonexistent/flow.json")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read workflow file")
}

func TestWorkflowCommand_MalformedDocument(t *testing.T) {
	file := writeTempFile(t, "broken.json", `{"steps": [`)

	_, err := runCommand(t, "workflow", file)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode workflow")
}

func TestWorkflowCommand_InvalidParallelism(t *testing.T) {
	file := writeTempFile(t, "flow.json", workflowDoc("https://example.com"))

	_, err := runCommand(t, "workflow", file, "--parallel", "0")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.max_parallel")
}
