package workflow

import (
	"errors"

	"github.com/example/plant-scan/internal/history"
	"github.com/example/plant-scan/internal/imagesource"
	"github.com/example/plant-scan/internal/inference"
	"github.com/example/plant-scan/internal/logging"
)

// Error kinds surfaced to the presentation layer.
const (
	KindPermissionDenied   = "permission_denied"
	KindSelectionCancelled = "selection_cancelled"
	KindPreprocessing      = "preprocessing"
	KindService            = "service"
	KindValidation         = "validation"
	KindStorage            = "storage"
	KindUnknown            = "unknown"
)

// Failure is the error payload carried by the failed state.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func newFailure(err error) *Failure {
	return &Failure{Kind: ErrorKind(err), Message: err.Error(), Err: err}
}

// ErrorKind maps any error produced along the scan pipeline to its kind.
func ErrorKind(err error) string {
	var (
		verr *history.ValidationError
		perr *inference.PreprocessingError
		serr *inference.ServiceError
		oerr *logging.OperationError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, imagesource.ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, imagesource.ErrCancelled):
		return KindSelectionCancelled
	case errors.As(err, &verr):
		return KindValidation
	case errors.As(err, &perr):
		return KindPreprocessing
	case errors.As(err, &serr):
		return KindService
	case errors.As(err, &oerr):
		return KindStorage
	default:
		return KindUnknown
	}
}
