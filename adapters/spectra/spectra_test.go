package spectra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/mehdirezaie/flask/domain/field"
	"github.com/mehdirezaie/flask/internal/diag"
)

func twoFieldRegistry(t *testing.T) *field.Registry {
	t.Helper()
	reg, err := field.Build([]field.Field{
		{Family: 1, Slice: 1, Kind: field.TypeDensity, Shift: 1},
		{Family: 1, Slice: 2, Kind: field.TypeDensity, Shift: 1},
	}, true)
	require.NoError(t, err)
	return reg
}

func TestLoadPairFiles(t *testing.T) {
	reg := twoFieldRegistry(t)
	dir := t.TempDir()
	prefix := filepath.Join(dir, "Cl-")

	require.NoError(t, os.WriteFile(prefix+"f1z1f1z1.dat",
		[]byte("# l Cl\n2 1.0\n4 0.5\n10 0.1\n"), 0o644))
	require.NoError(t, os.WriteFile(prefix+"f1z1f1z2.dat",
		[]byte("2 0.3\n10 0.05\n"), 0o644))

	store, err := LoadPairFiles(prefix, reg)
	require.NoError(t, err)

	s, err := store.Get(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 10}, s.L)
	assert.Equal(t, []float64{1.0, 0.5, 0.1}, s.Cl)
	assert.True(t, store.IsSet(0, 1))
	assert.False(t, store.IsSet(1, 1), "file not on disk, pair must stay unset")
}

func TestLoadPairFilesNoneFound(t *testing.T) {
	_, err := LoadPairFiles(filepath.Join(t.TempDir(), "Cl-"), twoFieldRegistry(t))
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestLoadWideTable(t *testing.T) {
	reg := twoFieldRegistry(t)
	path := filepath.Join(t.TempDir(), "cl.dat")
	require.NoError(t, os.WriteFile(path, []byte(
		"# l Cl-f1z1f1z1 Cl-f1z1f1z2 Cl-f9z9f9z9\n"+
			"2 1.0 0.3 7.0\n"+
			"4 0.5 0.2 7.0\n"+
			"10 0.1 0.05 7.0\n"), 0o644))

	rep := diag.NewReporter(nil)
	store, err := LoadWideTable(path, reg, rep)
	require.NoError(t, err)

	s, err := store.Get(0, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.3, 0.2, 0.05}, s.Cl)
	// The unknown f9z9 column is dropped with a warning, not an error.
	assert.Equal(t, int64(1), rep.Warnings())
	assert.Len(t, store.Pairs(), 2)
}

func TestLoadWideXLSX(t *testing.T) {
	reg := twoFieldRegistry(t)
	path := filepath.Join(t.TempDir(), "cl.xlsx")

	wb := excelize.NewFile()
	sheet := wb.GetSheetName(0)
	require.NoError(t, wb.SetSheetRow(sheet, "A1", &[]any{"l", "Cl-f1z1f1z1", "Cl-f1z1f1z2"}))
	require.NoError(t, wb.SetSheetRow(sheet, "A2", &[]any{2, 1.0, 0.3}))
	require.NoError(t, wb.SetSheetRow(sheet, "A3", &[]any{10, 0.1, 0.05}))
	require.NoError(t, wb.SaveAs(path))
	require.NoError(t, wb.Close())

	store, err := LoadWideXLSX(path, reg, diag.NewReporter(nil))
	require.NoError(t, err)
	s, err := store.Get(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 10}, s.L)
	assert.Equal(t, []float64{1.0, 0.1}, s.Cl)
}

func TestWritePairFilesRoundTrip(t *testing.T) {
	reg := twoFieldRegistry(t)
	prefix := filepath.Join(t.TempDir(), "out-")

	grids := map[[2]int][]float64{
		{0, 0}: {0, 0, 1.0, 0.5},
		{0, 1}: {0, 0, 0.3, 0.2},
	}
	require.NoError(t, WritePairFiles(prefix, reg, grids))

	store, err := LoadPairFiles(prefix, reg)
	require.NoError(t, err)
	s, err := store.Get(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3}, s.L)
	assert.InDeltaSlice(t, grids[[2]int{0, 0}], s.Cl, 1e-12)
}
