// Package middleware wraps a processor.Executor with cross-cutting behavior.
// The processor only keeps retry bookkeeping and metrics; panics, logs and
// spans around each execution come from the wrappers in this package.
package middleware

import "github.com/plaenen/cartflow/pkg/processor"

// Middleware decorates an Executor.
type Middleware func(next processor.Executor) processor.Executor

// Chain wraps exec so that the first middleware is the outermost one.
func Chain(exec processor.Executor, mws ...Middleware) processor.Executor {
	for i := len(mws) - 1; i >= 0; i-- {
		exec = mws[i](exec)
	}
	return exec
}
