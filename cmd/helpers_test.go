package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

// resetCLIState gives each test a clean shared viper so bindings from one
// command run never leak into the next.
func resetCLIState(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

// runCommand executes a fresh command tree with args, capturing cobra's own
// output streams. Results printed through a presenter go to --output files,
// not these streams.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetCLIState(t)

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// runCommandToFile appends --output pointing at a temp file and returns what
// the command rendered there.
func runCommandToFile(t *testing.T, args ...string) (string, error) {
	t.Helper()
	outPath := filepath.Join(t.TempDir(), "result.out")
	if _, err := runCommand(t, append(args, "--output", outPath)...); err != nil {
		return "", err
	}
	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	return string(data), nil
}

// serveHTML serves one fixed page for static-backend command tests.
func serveHTML(t *testing.T, html string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, html)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeTempFile drops content into the test's temp dir and returns its path.
func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
