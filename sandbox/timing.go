package sandbox

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// WithTimeLogging wraps an operation closure with start/elapsed/failure
// logging under the given operation name.
func WithTimeLogging[T any](logger *zap.Logger, operation string, op func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		start := time.Now()
		logger.Info("operation started", zap.String("operation", operation))

		result, err := op(ctx)
		elapsed := time.Since(start)
		if err != nil {
			logger.Error("operation failed",
				zap.String("operation", operation),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
			return result, err
		}

		logger.Info("operation completed",
			zap.String("operation", operation),
			zap.Duration("elapsed", elapsed))
		return result, nil
	}
}
