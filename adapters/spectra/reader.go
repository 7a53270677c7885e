// Package spectra provides the file adapters for power-spectrum input and the
// diagnostic outputs: per-pair two-column text files, wide text tables with
// one labelled column per pair, and the same wide layout in .xlsx workbooks.
package spectra

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/mehdirezaie/flask/domain/field"
	"github.com/mehdirezaie/flask/domain/spectra"
	"github.com/mehdirezaie/flask/internal/diag"
)

var (
	ErrNoFiles  = errors.New("spectra: no per-pair files found under prefix")
	ErrNoHeader = errors.New("spectra: wide table has no header row")
)

// LoadPairFiles reads every file <prefix>f%dz%df%dz%d.dat that exists for an
// ordered pair of registered fields. Missing files are fine as long as at
// least one pair is found; symmetry completion happens later, at covariance
// assembly.
func LoadPairFiles(prefix string, reg *field.Registry) (*spectra.Store, error) {
	n := reg.NFields()
	store := spectra.NewStore(n)
	found := 0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			path := prefix + reg.Label(i) + reg.Label(j) + ".dat"
			if _, err := os.Stat(path); err != nil {
				continue
			}
			s, err := readTwoColumns(path)
			if err != nil {
				return nil, err
			}
			if err := store.Set(i, j, s); err != nil {
				return nil, fmt.Errorf("spectra: %s: %w", path, err)
			}
			found++
		}
	}
	if found == 0 {
		return nil, fmt.Errorf("%w %q", ErrNoFiles, prefix)
	}
	return store, nil
}

func readTwoColumns(path string) (spectra.Spectrum, error) {
	f, err := os.Open(path)
	if err != nil {
		return spectra.Spectrum{}, fmt.Errorf("spectra: failed to open %s: %w", path, err)
	}
	defer f.Close()

	var s spectra.Spectrum
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		cols := strings.Fields(text)
		if len(cols) < 2 {
			return spectra.Spectrum{}, fmt.Errorf("spectra: %s:%d: want two columns, got %d", path, line, len(cols))
		}
		l, err := strconv.ParseFloat(cols[0], 64)
		if err != nil {
			return spectra.Spectrum{}, fmt.Errorf("spectra: %s:%d: %w", path, line, err)
		}
		cl, err := strconv.ParseFloat(cols[1], 64)
		if err != nil {
			return spectra.Spectrum{}, fmt.Errorf("spectra: %s:%d: %w", path, line, err)
		}
		s.L = append(s.L, l)
		s.Cl = append(s.Cl, cl)
	}
	if err := sc.Err(); err != nil {
		return spectra.Spectrum{}, fmt.Errorf("spectra: failed to read %s: %w", path, err)
	}
	return s, nil
}

// LoadPixelWindow reads a two-column (multipole, window value) table, for
// example a dump of a pixelization library's window function.
func LoadPixelWindow(path string) (ls, w []float64, err error) {
	s, err := readTwoColumns(path)
	if err != nil {
		return nil, nil, err
	}
	return s.L, s.Cl, nil
}

// LoadWideTable reads a text table whose header row names the pair columns
// ("Cl-f1z1f2z1" style) and whose first column is the multipole. Columns with
// labels that do not match any registered field pair are skipped with a
// warning.
func LoadWideTable(path string, reg *field.Registry, rep *diag.Reporter) (*spectra.Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("spectra: failed to open %s: %w", path, err)
	}
	defer f.Close()

	var rows [][]string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(sc.Text()), "#"))
		if text == "" {
			continue
		}
		rows = append(rows, strings.Fields(text))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("spectra: failed to read %s: %w", path, err)
	}
	return parseWide(path, rows, reg, rep)
}

// LoadWideXLSX reads the same wide layout from the first sheet of a workbook.
func LoadWideXLSX(path string, reg *field.Registry, rep *diag.Reporter) (*spectra.Store, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("spectra: failed to open workbook %s: %w", path, err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("spectra: failed to read workbook %s: %w", path, err)
	}
	// Cells may be empty at row ends; trim them so column counts line up.
	trimmed := make([][]string, 0, len(rows))
	for _, row := range rows {
		for len(row) > 0 && strings.TrimSpace(row[len(row)-1]) == "" {
			row = row[:len(row)-1]
		}
		if len(row) > 0 {
			trimmed = append(trimmed, row)
		}
	}
	return parseWide(path, trimmed, reg, rep)
}

func parseWide(path string, rows [][]string, reg *field.Registry, rep *diag.Reporter) (*spectra.Store, error) {
	if len(rows) < 2 || len(rows[0]) < 2 {
		return nil, fmt.Errorf("%w: %s", ErrNoHeader, path)
	}
	header := rows[0][1:] // first header cell labels the multipole column
	ncols := len(header)

	pairs := make([][2]int, ncols)
	keep := make([]bool, ncols)
	for c, label := range header {
		i, j, err := reg.ParsePairLabel(strings.TrimSpace(label))
		if err != nil {
			rep.Warn("skipping unrecognized spectrum column", zap.String("table", path), zap.String("label", label))
			continue
		}
		pairs[c] = [2]int{i, j}
		keep[c] = true
	}

	ls := make([]float64, 0, len(rows)-1)
	cls := make([][]float64, ncols)
	for r, row := range rows[1:] {
		if len(row) != ncols+1 {
			return nil, fmt.Errorf("spectra: %s: row %d has %d columns, header has %d", path, r+2, len(row), ncols+1)
		}
		l, err := strconv.ParseFloat(strings.TrimSpace(row[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("spectra: %s: row %d: %w", path, r+2, err)
		}
		ls = append(ls, l)
		for c := 0; c < ncols; c++ {
			if !keep[c] {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(row[c+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("spectra: %s: row %d: %w", path, r+2, err)
			}
			cls[c] = append(cls[c], v)
		}
	}

	store := spectra.NewStore(reg.NFields())
	set := 0
	for c := 0; c < ncols; c++ {
		if !keep[c] {
			continue
		}
		ll := make([]float64, len(ls))
		copy(ll, ls)
		if err := store.Set(pairs[c][0], pairs[c][1], spectra.Spectrum{L: ll, Cl: cls[c]}); err != nil {
			return nil, fmt.Errorf("spectra: %s column %q: %w", path, header[c], err)
		}
		set++
	}
	if set == 0 {
		return nil, fmt.Errorf("spectra: %s: no recognized pair columns", path)
	}
	return store, nil
}
