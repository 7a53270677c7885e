package fields

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehdirezaie/flask/domain/field"
)

func writeTable(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fields-info.dat")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeTable(t, `# f z mean shift type zmin zmax
1 1 0.0 1.0 1 0.2 0.4
1 2 0.0 0.5 1 0.4 0.6

2 1 0.0 0.01 2 0.0 1.0
`)
	reg, err := Load(path, true)
	require.NoError(t, err)
	require.Equal(t, 3, reg.NFields())

	assert.Equal(t, "f1z2", reg.Label(1))
	assert.Equal(t, field.TypeLensing, reg.At(2).Kind)
	assert.Equal(t, 0.5, reg.Shift(1))
	assert.Equal(t, 0.4, reg.At(0).ZMax)

	i, err := reg.Name2Index(2, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, i)
}

func TestLoadRejectsBadRows(t *testing.T) {
	path := writeTable(t, "1 1 0.0 1.0 1 0.2\n")
	_, err := Load(path, true)
	require.ErrorIs(t, err, ErrBadRow)

	path = writeTable(t, "1 1 0.0 1.0 9 0.2 0.4\n")
	_, err = Load(path, true)
	require.ErrorIs(t, err, field.ErrUnknownType)

	// Shift validation is deferred to the registry and only bites for
	// lognormal runs.
	path = writeTable(t, "1 1 -2.0 1.0 1 0.2 0.4\n")
	_, err = Load(path, true)
	require.ErrorIs(t, err, field.ErrBadShift)
	_, err = Load(path, false)
	require.NoError(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.dat"), true)
	assert.Error(t, err)
}
