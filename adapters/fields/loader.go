// Package fields loads the field registry from the fields-info table: one row
// per field with columns f z mean shift type zmin zmax. Lines starting with
// '#' are comments.
package fields

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mehdirezaie/flask/domain/field"
)

const (
	typeDensity = 1
	typeLensing = 2
)

var ErrBadRow = errors.New("fields: row needs 7 columns: f z mean shift type zmin zmax")

// Load reads the table at path and builds the registry. Field order in the
// file fixes the covariance-matrix ordering for the whole run.
func Load(path string, lognormal bool) (*field.Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fields: failed to open info table: %w", err)
	}
	defer f.Close()

	var list []field.Field
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fl, err := parseRow(text)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		list = append(list, fl)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("fields: failed to read info table: %w", err)
	}
	reg, err := field.Build(list, lognormal)
	if err != nil {
		return nil, fmt.Errorf("fields: %s: %w", path, err)
	}
	return reg, nil
}

func parseRow(text string) (field.Field, error) {
	cols := strings.Fields(text)
	if len(cols) != 7 {
		return field.Field{}, fmt.Errorf("%w, got %d", ErrBadRow, len(cols))
	}
	ints := make([]int, 2)
	for k := 0; k < 2; k++ {
		v, err := strconv.Atoi(cols[k])
		if err != nil {
			return field.Field{}, fmt.Errorf("fields: column %d: %w", k+1, err)
		}
		ints[k] = v
	}
	floats := make([]float64, 5)
	for k := 2; k < 7; k++ {
		v, err := strconv.ParseFloat(cols[k], 64)
		if err != nil {
			return field.Field{}, fmt.Errorf("fields: column %d: %w", k+1, err)
		}
		floats[k-2] = v
	}

	kind := field.TypeUnknown
	switch int(floats[2]) {
	case typeDensity:
		kind = field.TypeDensity
	case typeLensing:
		kind = field.TypeLensing
	}
	return field.Field{
		Family: ints[0],
		Slice:  ints[1],
		Mean:   floats[0],
		Shift:  floats[1],
		Kind:   kind,
		ZMin:   floats[3],
		ZMax:   floats[4],
	}, nil
}
