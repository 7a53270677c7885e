package ports

import "gonum.org/v1/gonum/mat"

// RegStatus reports the outcome of one covariance-matrix regularization.
type RegStatus int

const (
	// RegUnchanged means the matrix was already positive semidefinite.
	RegUnchanged RegStatus = iota
	// RegRepaired means the matrix was modified and is now positive
	// semidefinite.
	RegRepaired
	// RegMaxIterations means the iteration budget ran out before the matrix
	// could be repaired. Per matrix this is a warning; any occurrence across
	// a run is fatal once all matrices have been attempted.
	RegMaxIterations
)

// Regularizer repairs covariance matrices that are not positive semidefinite.
// Regularize modifies the matrix in place.
type Regularizer interface {
	Regularize(m *mat.SymDense) (RegStatus, error)
}
