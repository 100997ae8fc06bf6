package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auxprotocol/auxcli/api/schemas"
)

const loginPage = `<html><body>
<form id="login" action="/session" method="post">
  <label for="user">Username</label>
  <input id="user" name="username" type="text">
  <input type="checkbox" name="remember_me" value="1">
  <button type="submit">Sign in</button>
</form>
</body></html>`

func TestFillCommand_FillsFields(t *testing.T) {
	srv := serveHTML(t, loginPage)

	out, err := runCommandToFile(t, "fill", srv.URL,
		"--request", `{"form_data": {"username": "ada", "remember_me": "yes"}}`)
	require.NoError(t, err)

	var res schemas.FillFormResult
	require.NoError(t, jsonAPI.Unmarshal([]byte(out), &res))
	require.Len(t, res.Fields, 2)
	assert.Equal(t, 2, res.FilledCount())
	assert.Equal(t, "username", res.Fields[0].Field, "fields are reported in request order")
	assert.Equal(t, "remember_me", res.Fields[1].Field)
	assert.False(t, res.Submitted)
}

func TestFillCommand_UnmatchedFieldIsReported(t *testing.T) {
	srv := serveHTML(t, loginPage)

	out, err := runCommandToFile(t, "fill", srv.URL,
		"--request", `{"form_data": {"username": "ada", "coupon_code": "SAVE10"}}`)
	require.NoError(t, err, "an unmatched field is a partial result, not a failure")

	var res schemas.FillFormResult
	require.NoError(t, jsonAPI.Unmarshal([]byte(out), &res))
	require.Len(t, res.Fields, 2)
	assert.Equal(t, schemas.FieldFilled, res.Fields[0].Status)
	assert.Equal(t, schemas.FieldFailed, res.Fields[1].Status)
	assert.Equal(t, schemas.ReasonNoMatch, res.Fields[1].Reason)
}

func TestFillCommand_RequestFromFile(t *testing.T) {
	srv := serveHTML(t, loginPage)
	reqPath := writeTempFile(t, "fill.json", `{"form_data": {"username": "grace"}}`)

	out, err := runCommandToFile(t, "fill", srv.URL, "--request", "@"+reqPath)
	require.NoError(t, err)

	var res schemas.FillFormResult
	require.NoError(t, jsonAPI.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.FilledCount())
}

func TestFillCommand_RequiresRequest(t *testing.T) {
	_, err := runCommand(t, "fill", "http://127.0.0.1:1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "a request is required")
}

func TestFillCommand_EmptyFormData(t *testing.T) {
	srv := serveHTML(t, loginPage)

	_, err := runCommand(t, "fill", srv.URL, "--request", `{"form_data": {}}`)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one field")
}
