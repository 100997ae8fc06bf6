package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auxprotocol/auxcli/api/schemas"
)

func TestWaitCommand_SatisfiedImmediately(t *testing.T) {
	srv := serveHTML(t, `<html><body><div id="ready">done</div></body></html>`)

	out, err := runCommandToFile(t, "wait", srv.URL, "--selector", "#ready")
	require.NoError(t, err)

	var res schemas.WaitResult
	require.NoError(t, jsonAPI.Unmarshal([]byte(out), &res))
	assert.Equal(t, schemas.WaitSatisfied, res.Status)
	assert.Equal(t, 1, res.Polls)
}

func TestWaitCommand_TimeoutIsANormalOutcome(t *testing.T) {
	srv := serveHTML(t, `<html><body><p>nothing here</p></body></html>`)

	out, err := runCommandToFile(t, "wait", srv.URL, "--selector", "#missing", "--timeout", "0")
	require.NoError(t, err, "a timed-out wait is a result, not a command failure")

	var res schemas.WaitResult
	require.NoError(t, jsonAPI.Unmarshal([]byte(out), &res))
	assert.Equal(t, schemas.WaitTimedOut, res.Status)
	assert.Equal(t, 1, res.Polls)
}

func TestWaitCommand_RequestDocument(t *testing.T) {
	srv := serveHTML(t, `<html><body><div id="status">order shipped</div></body></html>`)

	out, err := runCommandToFile(t, "wait", srv.URL,
		"--request", `{"condition": {"kind": "text_contains", "selector": "#status", "text": "shipped"}}`)
	require.NoError(t, err)

	var res schemas.WaitResult
	require.NoError(t, jsonAPI.Unmarshal([]byte(out), &res))
	assert.Equal(t, schemas.WaitSatisfied, res.Status)
}

func TestWaitCommand_InvalidConditionKind(t *testing.T) {
	_, err := runCommand(t, "wait", "http://127.0.0.1:1", "--for", "eventually", "--selector", "#x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown condition kind")
}

func TestWaitCommand_MissingSelector(t *testing.T) {
	_, err := runCommand(t, "wait", "http://127.0.0.1:1", "--for", "appear")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "selector")
}
