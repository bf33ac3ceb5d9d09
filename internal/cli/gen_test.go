package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var genInput = filepath.Join("..", "gen", "testdata", "people.go")

func TestGenCommand(t *testing.T) {
	stdout, _, err := runRoot(t, "gen", genInput)
	require.NoError(t, err)

	out := stdout.String()
	assert.Contains(t, out, "models:\n")
	assert.Contains(t, out, "name: Person")
	assert.Contains(t, out, "table: persons")
	assert.Contains(t, out, "kind: many_to_many")
}

func TestGenCommandOutputFile(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "models.yaml")

	stdout, stderr, err := runRoot(t, "gen", genInput, "-o", outPath)
	require.NoError(t, err)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "wrote "+outPath)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: Animal")
}

func TestGenCommandErrors(t *testing.T) {
	_, _, err := runRoot(t, "gen", filepath.Join("..", "gen", "testdata", "invalid_relation.go"))
	require.Error(t, err)

	_, _, err = runRoot(t, "gen", filepath.Join("..", "gen", "testdata", "missing_pk.go"))
	require.Error(t, err)
}
