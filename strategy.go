package main

import (
	"context"
	"errors"
)

// errNoStrategies is returned by tryInOrder for an empty strategy list.
var errNoStrategies = errors.New("no strategies to try")

// strategy is one named way of producing a T.
type strategy[T any] struct {
	name string
	run  func(ctx context.Context) (T, error)
}

// tryInOrder runs strategies in order and returns the first success. After a
// failure, next decides whether the following strategy is tried; a false
// answer returns that failure immediately. When every strategy fails the last
// error is returned. attempts lists the names of the strategies that ran.
func tryInOrder[T any](ctx context.Context, strategies []strategy[T], next func(error) bool) (result T, attempts []string, err error) {
	err = errNoStrategies
	for _, s := range strategies {
		attempts = append(attempts, s.name)

		var out T
		out, err = s.run(ctx)
		if err == nil {
			return out, attempts, nil
		}
		if next != nil && !next(err) {
			break
		}
	}
	var zero T
	return zero, attempts, err
}
