package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	root := NewRootCmd()
	for _, path := range [][]string{
		{"index", "migrate"},
		{"index", "verify"},
		{"index", "rollback"},
		{"sync", "rebuild"},
		{"sync", "index"},
		{"sync", "update"},
		{"sync", "delete"},
		{"queue", "stats"},
		{"queue", "drain"},
		{"queue", "clear"},
		{"queue", "job"},
		{"search"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestMigrateFlags(t *testing.T) {
	root := NewRootCmd()
	cmd, _, err := root.Find([]string{"index", "migrate"})
	require.NoError(t, err)
	for _, name := range []string{"delete-existing", "skip-if-exists", "update-mapping"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestRollbackRequiresConfirmation(t *testing.T) {
	_, err := run(t, "index", "rollback")
	assert.ErrorContains(t, err, "--yes")
}

func TestEntityCommandsNeedAnID(t *testing.T) {
	_, err := run(t, "sync", "delete")
	assert.Error(t, err)
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, map[string]int{"removed": 2}))
	assert.JSONEq(t, `{"removed":2}`, buf.String())
}
