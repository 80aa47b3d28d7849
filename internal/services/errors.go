package services

import (
	"context"
	"errors"
	"fmt"

	"activation-api/internal/apperr"
)

// storeErr classifies a store failure for op. Classified errors pass through
// unchanged; timeouts become Unavailable; anything else is Internal with the
// given client message.
func storeErr(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.Unavailable, "Service temporarily unavailable", fmt.Errorf("%s: %w", op, err))
	}
	return apperr.Wrap(apperr.Internal, message, fmt.Errorf("%s: %w", op, err))
}
