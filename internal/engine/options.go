package engine

import "github.com/okian/runout/pkg/logger"

// Option configures an Exec engine.
type Option func(*Exec)

// WithBaseArgs sets arguments placed before the generated key=value pairs.
func WithBaseArgs(args ...string) Option {
	return func(e *Exec) {
		e.baseArgs = append([]string(nil), args...)
	}
}

// WithEnv appends KEY=VALUE entries to the engine environment.
func WithEnv(env ...string) Option {
	return func(e *Exec) {
		e.env = append(e.env, env...)
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Exec) {
		if l != nil {
			e.log = l
		}
	}
}
