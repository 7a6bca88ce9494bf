package inference

import "fmt"

const maxBodyInMessage = 256

// PreprocessingError reports that the source image could not be read,
// decoded, or re-encoded.
type PreprocessingError struct {
	ImageURI string
	Err      error
}

func (e *PreprocessingError) Error() string {
	return fmt.Sprintf("preprocess %s: %v", e.ImageURI, e.Err)
}

func (e *PreprocessingError) Unwrap() error {
	return e.Err
}

// ServiceError reports a failed call or an unusable response. StatusCode is
// zero when no response was received. Body holds the raw response for
// diagnostics.
type ServiceError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ServiceError) Error() string {
	body := e.Body
	if len(body) > maxBodyInMessage {
		body = body[:maxBodyInMessage] + "..."
	}
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("inference service unreachable: %v", e.Err)
	case e.Err != nil:
		return fmt.Sprintf("inference service status %d: %v: %s", e.StatusCode, e.Err, body)
	default:
		return fmt.Sprintf("inference service status %d: %s", e.StatusCode, body)
	}
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
