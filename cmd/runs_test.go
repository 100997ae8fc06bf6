package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunsCommand_RequiresArchive(t *testing.T) {
	_, err := runCommand(t, "runs")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "run archive is not enabled")
}
