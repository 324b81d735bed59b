package session

import (
	"context"
	"errors"
	"fmt"

	dicomerrors "github.com/caio-sobreiro/modalitysim/errors"
)

// Describe turns a pipeline error into a message for the operator.
func Describe(err error) string {
	switch {
	case err == nil:
		return "Done."
	case errors.Is(err, context.Canceled), errors.Is(err, dicomerrors.ErrOperationCanceled):
		return "Cancelled."
	case errors.Is(err, dicomerrors.ErrNoMatches):
		return "No scheduled exams on the worklist."
	case errors.Is(err, dicomerrors.ErrConnectionFailed):
		if status, ok := dicomerrors.StatusOf(err); ok {
			return fmt.Sprintf("Worklist query failed with status 0x%04X.", status)
		}
		return fmt.Sprintf("Cannot reach the worklist provider: %s", cause(err))
	case errors.Is(err, dicomerrors.ErrEmptyTemplateStore):
		return "No template images found in the template directory."
	case errors.Is(err, dicomerrors.ErrMalformedTemplate):
		return fmt.Sprintf("Template could not be used: %s", cause(err))
	case errors.Is(err, dicomerrors.ErrConnectionRejected):
		return fmt.Sprintf("The archive refused the association: %s", cause(err))
	case errors.Is(err, dicomerrors.ErrStoreRejected):
		if status, ok := dicomerrors.StatusOf(err); ok {
			return fmt.Sprintf("The archive rejected the image with status 0x%04X.", status)
		}
		return fmt.Sprintf("Sending the image failed: %s", cause(err))
	default:
		return fmt.Sprintf("Unexpected error: %v", err)
	}
}

// cause drops the leading category from a wrapped error message.
func cause(err error) string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		if errs := joined.Unwrap(); len(errs) > 1 {
			return errs[len(errs)-1].Error()
		}
	}
	return err.Error()
}
