package clients

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"dragnet/pkg/logging"
)

// GRPCExecutorConfig configures retry and circuit breaking for gRPC
// connections (the vector index speaks gRPC).
type GRPCExecutorConfig struct {
	// Retry settings
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Circuit breaker settings
	CircuitBreakerConfig *CircuitBreakerConfig

	// Logger for debugging
	Logger logging.Logger
}

// DefaultGRPCExecutorConfig returns sensible defaults for gRPC
func DefaultGRPCExecutorConfig() GRPCExecutorConfig {
	return GRPCExecutorConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// isRetryableGRPCError determines if a gRPC error should be retried
func isRetryableGRPCError(err error) bool {
	if err == nil {
		return false
	}

	code := status.Code(err)
	switch code {
	case codes.Unavailable,
		codes.DeadlineExceeded,
		codes.ResourceExhausted,
		codes.Aborted:
		return true

	case codes.InvalidArgument,
		codes.NotFound,
		codes.AlreadyExists,
		codes.PermissionDenied,
		codes.Unauthenticated,
		codes.FailedPrecondition,
		codes.OutOfRange,
		codes.Unimplemented,
		codes.Internal,
		codes.Canceled,
		codes.OK:
		return false

	default:
		// Unknown codes - don't retry to be safe
		return false
	}
}

// isCircuitBreakerFailure determines if a gRPC error should count
// as a failure for circuit breaker purposes
func isCircuitBreakerFailure(err error) bool {
	if err == nil {
		return false
	}

	code := status.Code(err)
	switch code {
	// Server errors - count as failures
	case codes.Internal,
		codes.Unavailable,
		codes.DeadlineExceeded,
		codes.ResourceExhausted,
		codes.Aborted,
		codes.Unknown:
		return true

	// Client errors - don't count as failures (our fault, not server's)
	default:
		return false
	}
}

// NewGRPCCircuitBreaker creates a circuit breaker for gRPC calls
func NewGRPCCircuitBreaker[T any](cfg CircuitBreakerConfig) circuitbreaker.CircuitBreaker[T] {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.FailureRatio == 0 {
		cfg.FailureRatio = 0.5
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 10
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}

	failureThreshold := uint(float64(cfg.MinRequests) * cfg.FailureRatio)
	if failureThreshold < 1 {
		failureThreshold = 1
	}

	builder := circuitbreaker.NewBuilder[T]().
		WithFailureThresholdRatio(failureThreshold, uint(cfg.MinRequests)).
		WithDelay(cfg.Timeout).
		WithSuccessThreshold(uint(cfg.MaxRequests)).
		HandleIf(func(_ T, err error) bool {
			return isCircuitBreakerFailure(err)
		})

	if cfg.OnStateChange != nil || cfg.Logger != nil {
		builder = builder.OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			fromState := convertState(event.OldState)
			toState := convertState(event.NewState)

			if cfg.Logger != nil {
				cfg.Logger.WithFields(logging.Fields{
					"circuit_breaker": cfg.Name,
					"from_state":      fromState.String(),
					"to_state":        toState.String(),
				}).Warn("gRPC circuit breaker state change")
			}

			if cfg.OnStateChange != nil {
				cfg.OnStateChange(cfg.Name, fromState, toState)
			}
		})
	}

	return builder.Build()
}

func normalizeGRPCExecutorConfig(cfg GRPCExecutorConfig) GRPCExecutorConfig {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return cfg
}

// GRPCUnaryClientInterceptor returns a gRPC unary client interceptor
// that applies retry and circuit breaker policies.
func GRPCUnaryClientInterceptor(cfg GRPCExecutorConfig) grpc.UnaryClientInterceptor {
	cfg = normalizeGRPCExecutorConfig(cfg)

	// With zero retries the policy must not classify anything as a failure,
	// otherwise exhaustion wraps the status error instead of passing it
	// through untouched.
	shouldRetry := isRetryableGRPCError
	if cfg.MaxRetries == 0 {
		shouldRetry = func(error) bool { return false }
	}

	retry := retrypolicy.NewBuilder[any]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			return shouldRetry(err)
		}).
		Build()

	var policies []failsafe.Policy[any]
	policies = append(policies, retry)

	if cfg.CircuitBreakerConfig != nil {
		cb := NewGRPCCircuitBreaker[any](*cfg.CircuitBreakerConfig)
		policies = append(policies, cb)
	}

	executor := failsafe.With(policies...)

	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		_, err := executor.WithContext(ctx).Get(func() (any, error) {
			err := invoker(ctx, method, req, reply, cc, opts...)
			return nil, err
		})

		// Convert circuit breaker open error to gRPC Unavailable
		if err != nil && errors.Is(err, circuitbreaker.ErrOpen) {
			return status.Errorf(codes.Unavailable, "circuit breaker open")
		}

		return err
	}
}

// WithGRPCFailsafe returns a gRPC dial option with retry and circuit breaker
func WithGRPCFailsafe(cfg GRPCExecutorConfig) grpc.DialOption {
	return grpc.WithUnaryInterceptor(GRPCUnaryClientInterceptor(cfg))
}
