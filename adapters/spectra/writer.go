package spectra

import (
	"bufio"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/mehdirezaie/flask/domain/field"
	"github.com/mehdirezaie/flask/internal/sampling"
)

// WritePairFiles dumps one two-column file per entry of grids, named
// <prefix>f%dz%df%dz%d.dat with values on every integer multipole. These are
// the diagnostic counterparts of the input per-pair files and round-trip
// through LoadPairFiles.
func WritePairFiles(prefix string, reg *field.Registry, grids map[[2]int][]float64) error {
	for pair, cl := range grids {
		path := prefix + reg.Label(pair[0]) + reg.Label(pair[1]) + ".dat"
		if err := writeTwoColumns(path, cl); err != nil {
			return err
		}
	}
	return nil
}

func writeTwoColumns(path string, cl []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("spectra: failed to create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	for l, v := range cl {
		fmt.Fprintf(w, "%d %.10e\n", l, v)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("spectra: failed to write %s: %w", path, err)
	}
	return f.Close()
}

// WriteXiFiles dumps one correlation function per pair, two columns
// (angle in radians, value) at the transform's angular nodes.
func WriteXiFiles(prefix string, reg *field.Registry, thetas []float64, xis map[[2]int][]float64) error {
	for pair, xi := range xis {
		path := prefix + reg.Label(pair[0]) + reg.Label(pair[1]) + ".dat"
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("spectra: failed to create %s: %w", path, err)
		}
		w := bufio.NewWriter(f)
		for j, v := range xi {
			fmt.Fprintf(w, "%.10e %.10e\n", thetas[j], v)
		}
		if err := w.Flush(); err != nil {
			f.Close()
			return fmt.Errorf("spectra: failed to write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

// WriteMatrices dumps every matrix in [lmin, lmax] to <prefix>l###.dat,
// multipole zero-padded to three digits, one matrix row per line. Works for
// both the symmetric covariance matrices and their triangular factors.
func WriteMatrices[M mat.Matrix](prefix string, ms []M, lmin, lmax int) error {
	for l := lmin; l <= lmax; l++ {
		path := fmt.Sprintf("%sl%03d.dat", prefix, l)
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("spectra: failed to create %s: %w", path, err)
		}
		w := bufio.NewWriter(f)
		n, _ := ms[l].Dims()
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if j > 0 {
					fmt.Fprint(w, " ")
				}
				fmt.Fprintf(w, "%.10e", ms[l].At(i, j))
			}
			fmt.Fprintln(w)
		}
		if err := w.Flush(); err != nil {
			f.Close()
			return fmt.Errorf("spectra: failed to write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

// WriteAlm dumps the sampled coefficients of all fields to one table: a row
// per (l, m) in [lmin, lmax], with a real and an imaginary column per field.
func WriteAlm(path string, reg *field.Registry, alms [][]complex128, lmin, lmax int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("spectra: failed to create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)

	fmt.Fprint(w, "# l m")
	for i := 0; i < reg.NFields(); i++ {
		fmt.Fprintf(w, " Re(%s) Im(%s)", reg.Label(i), reg.Label(i))
	}
	fmt.Fprintln(w)
	for l := lmin; l <= lmax; l++ {
		for m := 0; m <= l; m++ {
			fmt.Fprintf(w, "%d %d", l, m)
			j := sampling.PackedIndex(l, m)
			for fidx := range alms {
				c := alms[fidx][j]
				fmt.Fprintf(w, " %.10e %.10e", real(c), imag(c))
			}
			fmt.Fprintln(w)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("spectra: failed to write %s: %w", path, err)
	}
	return f.Close()
}

// WriteWeightTable dumps the density-to-convergence weight matrix: one row
// per source field, one labelled column per lens slice.
func WriteWeightTable(path string, reg *field.Registry, weights [][]float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("spectra: failed to create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)

	fmt.Fprint(w, "# source")
	for j := 0; j < reg.NFields(); j++ {
		fmt.Fprintf(w, " %s", reg.Label(j))
	}
	fmt.Fprintln(w)
	for i, row := range weights {
		fmt.Fprint(w, reg.Label(i))
		for _, v := range row {
			fmt.Fprintf(w, " %.10e", v)
		}
		fmt.Fprintln(w)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("spectra: failed to write %s: %w", path, err)
	}
	return f.Close()
}

// WriteFieldList dumps the field ordering and attributes, one row per field.
func WriteFieldList(path string, reg *field.Registry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("spectra: failed to create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "# index name mean shift type zmin zmax")
	for i := 0; i < reg.NFields(); i++ {
		fl := reg.At(i)
		fmt.Fprintf(w, "%d %s %g %g %d %g %g\n", i, reg.Label(i), fl.Mean, fl.Shift, fl.Kind, fl.ZMin, fl.ZMax)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("spectra: failed to write %s: %w", path, err)
	}
	return f.Close()
}
