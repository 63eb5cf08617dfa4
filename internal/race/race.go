// Package race runs competing lookups and keeps the first acceptable answer.
package race

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoResult is returned when every strategy failed or was rejected before the deadline.
var ErrNoResult = errors.New("race: no strategy produced a result")

// Strategy is one competing lookup. Timeout bounds this strategy alone; zero
// means it is bounded only by the overall deadline.
type Strategy[T any] struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) (T, error)
}

// Outcome records how a single strategy finished.
type Outcome struct {
	Name     string
	Err      error
	Elapsed  time.Duration
	Accepted bool
}

// Result is the winning value plus what happened to every strategy that
// finished before the race ended.
type Result[T any] struct {
	Value    T
	Winner   string
	Outcomes []Outcome
}

type attempt[T any] struct {
	name    string
	value   T
	err     error
	elapsed time.Duration
}

// First starts every strategy concurrently and returns the first value for
// which accept returns true. Remaining strategies are cancelled and not
// awaited; their late results are dropped. If deadline elapses first, or all
// strategies fail, the error wraps ErrNoResult.
func First[T any](ctx context.Context, deadline time.Duration, accept func(T) bool, strategies ...Strategy[T]) (Result[T], error) {
	var res Result[T]
	if len(strategies) == 0 {
		return res, ErrNoResult
	}
	if accept == nil {
		accept = func(T) bool { return true }
	}
	raceCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	// Buffered so abandoned goroutines never block on send.
	results := make(chan attempt[T], len(strategies))
	for _, s := range strategies {
		go run(raceCtx, s, results)
	}

	for pending := len(strategies); pending > 0; pending-- {
		select {
		case a := <-results:
			ok := a.err == nil && accept(a.value)
			res.Outcomes = append(res.Outcomes, Outcome{Name: a.name, Err: a.err, Elapsed: a.elapsed, Accepted: ok})
			if ok {
				res.Value = a.value
				res.Winner = a.name
				return res, nil
			}
		case <-raceCtx.Done():
			return res, fmt.Errorf("%w: %v", ErrNoResult, raceCtx.Err())
		}
	}
	return res, ErrNoResult
}

func run[T any](ctx context.Context, s Strategy[T], out chan<- attempt[T]) {
	start := time.Now()
	callCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	value, err := s.Run(callCtx)
	if err == nil && callCtx.Err() != nil {
		// Finished after its own bound; treat as a timeout so the value is discarded.
		err = callCtx.Err()
	}
	out <- attempt[T]{name: s.Name, value: value, err: err, elapsed: time.Since(start)}
}

// IsTimeout reports whether err came from a deadline rather than a provider failure.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
