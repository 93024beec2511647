package geocode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"horse.fit/eventmerge/internal/metrics"
)

const breakerName = "geocoder"

type LimitedOptions struct {
	RatePerSecond float64
	Burst         int
	// BreakerFailures is the number of consecutive failures that opens the
	// circuit.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Limited wraps a Geocoder with a request rate limit and a circuit breaker.
// A miss (ErrNoMatch) is a successful call as far as the breaker is concerned.
type Limited struct {
	inner   Geocoder
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[Result]
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewLimited(inner Geocoder, opts LimitedOptions, logger zerolog.Logger) *Limited {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 1
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = time.Minute
	}

	l := &Limited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		logger:  logger,
		done:    make(chan struct{}),
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	l.cb = gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoMatch)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("geocoder circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return l
}

func (l *Limited) Geocode(ctx context.Context, q Query) (Result, error) {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return Result{}, ErrClosed
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.done:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	if err := l.limiter.Wait(waitCtx); err != nil {
		if l.isClosed() {
			return Result{}, ErrClosed
		}
		return Result{}, fmt.Errorf("wait for geocoder rate limit: %w", err)
	}

	res, err := l.cb.Execute(func() (Result, error) {
		return l.inner.Geocode(ctx, q)
	})
	switch {
	case err == nil:
		metrics.GeocodeRequests.WithLabelValues("success").Inc()
	case errors.Is(err, ErrNoMatch):
		metrics.GeocodeRequests.WithLabelValues("no_match").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.GeocodeRequests.WithLabelValues("rejected").Inc()
	default:
		metrics.GeocodeRequests.WithLabelValues("failure").Inc()
	}
	return res, err
}

// Close rejects further lookups and releases callers waiting on the limiter.
// It is safe to call more than once.
func (l *Limited) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.done)
	return nil
}

func (l *Limited) isClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
