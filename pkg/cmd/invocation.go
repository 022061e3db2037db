// Package cmd is a small command core: a command has a name, a one-line
// description and Run(ctx, invocation). Flag parsing and output belong to
// the adapter that dispatches it.
package cmd

import "context"

// Invocation is what an adapter hands to a command: the positional
// arguments left after flag parsing and an adapter-defined payload.
type Invocation struct {
	Args []string
	Data any
}

type Command interface {
	Name() string
	Description() string
	Run(ctx context.Context, inv *Invocation) error
}
