package field

import (
	"errors"
	"fmt"
)

// Type classifies what a field physically represents.
type Type int

const (
	TypeUnknown Type = iota
	// TypeDensity is a galaxy (or matter) density contrast field.
	TypeDensity
	// TypeLensing is a weak-lensing convergence field.
	TypeLensing
)

var (
	ErrUnknownType  = errors.New("field: unknown field type")
	ErrBadZRange    = errors.New("field: zmin > zmax")
	ErrBadShift     = errors.New("field: mean+shift must be greater than zero")
	ErrNotFound     = errors.New("field: no field with that name")
	ErrEmptyBuild   = errors.New("field: registry needs at least one field")
	ErrDuplicateFZ  = errors.New("field: duplicate (family, slice) name")
)

// Field is one simulated quantity: a family name (e.g. "galaxy density") and a
// redshift-slice name, plus the statistical attributes the pipeline needs.
// Immutable once registered.
type Field struct {
	Family int // f name, as in input tables
	Slice  int // z name, as in input tables
	Mean   float64
	Shift  float64 // lognormal shift; ignored for Gaussian runs
	Kind   Type
	ZMin   float64
	ZMax   float64
}

func (f Field) validate(lognormal bool) error {
	if f.Kind != TypeDensity && f.Kind != TypeLensing {
		return fmt.Errorf("%w: f%dz%d", ErrUnknownType, f.Family, f.Slice)
	}
	if f.ZMin > f.ZMax {
		return fmt.Errorf("%w: f%dz%d", ErrBadZRange, f.Family, f.Slice)
	}
	if lognormal && f.Mean+f.Shift <= 0 {
		return fmt.Errorf("%w: f%dz%d has mean+shift=%g", ErrBadShift, f.Family, f.Slice, f.Mean+f.Shift)
	}
	return nil
}

// Registry fixes the ordering of fields used by every covariance matrix and
// coefficient array in a run. It is built once and shared read-only.
type Registry struct {
	fields []Field
	byName map[[2]int]int
}

// Build validates the field list and freezes its order. When lognormal is
// true, mean+shift is required to be positive for every field; this is checked
// here, before any transform is attempted.
func Build(fields []Field, lognormal bool) (*Registry, error) {
	if len(fields) == 0 {
		return nil, ErrEmptyBuild
	}
	r := &Registry{
		fields: make([]Field, len(fields)),
		byName: make(map[[2]int]int, len(fields)),
	}
	copy(r.fields, fields)
	for i, f := range r.fields {
		if err := f.validate(lognormal); err != nil {
			return nil, err
		}
		key := [2]int{f.Family, f.Slice}
		if _, dup := r.byName[key]; dup {
			return nil, fmt.Errorf("%w: f%dz%d", ErrDuplicateFZ, f.Family, f.Slice)
		}
		r.byName[key] = i
	}
	return r, nil
}

// NFields returns the number of registered fields.
func (r *Registry) NFields() int { return len(r.fields) }

// At returns the field stored at covariance-matrix position i.
func (r *Registry) At(i int) Field { return r.fields[i] }

// Mean returns the mean of field i.
func (r *Registry) Mean(i int) float64 { return r.fields[i].Mean }

// Shift returns the lognormal shift of field i.
func (r *Registry) Shift(i int) float64 { return r.fields[i].Shift }

// Index2Name maps a covariance-matrix position to the (family, slice) name.
func (r *Registry) Index2Name(i int) (family, slice int) {
	return r.fields[i].Family, r.fields[i].Slice
}

// Name2Index maps a (family, slice) name back to its matrix position.
func (r *Registry) Name2Index(family, slice int) (int, error) {
	i, ok := r.byName[[2]int{family, slice}]
	if !ok {
		return -1, fmt.Errorf("%w: f%dz%d", ErrNotFound, family, slice)
	}
	return i, nil
}

// Label returns the canonical name of field i, e.g. "f1z2".
func (r *Registry) Label(i int) string {
	return fmt.Sprintf("f%dz%d", r.fields[i].Family, r.fields[i].Slice)
}

// PairLabel returns the canonical spectrum label for the ordered pair (i, j),
// e.g. "Cl-f1z1f2z1". This is the header format of wide spectra tables.
func (r *Registry) PairLabel(i, j int) string {
	return fmt.Sprintf("Cl-%s%s", r.Label(i), r.Label(j))
}

// ParsePairLabel inverts PairLabel, returning the matrix positions of the two
// fields named by a table header entry.
func (r *Registry) ParsePairLabel(label string) (i, j int, err error) {
	var af, az, bf, bz int
	if _, err = fmt.Sscanf(label, "Cl-f%dz%df%dz%d", &af, &az, &bf, &bz); err != nil {
		return -1, -1, fmt.Errorf("field: cannot parse pair label %q: %w", label, err)
	}
	if i, err = r.Name2Index(af, az); err != nil {
		return -1, -1, err
	}
	if j, err = r.Name2Index(bf, bz); err != nil {
		return -1, -1, err
	}
	return i, j, nil
}
