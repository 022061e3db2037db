package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
)

var ErrUnknownCommand = errors.New("unknown command")

// Registry stores commands by name.
type Registry struct {
	commands map[string]Command
	mws      []Middleware
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds a command. Registering a name twice replaces the first.
func (r *Registry) Register(c Command) {
	r.commands[c.Name()] = c
}

// Use appends middlewares applied to every command returned by Get.
func (r *Registry) Use(mws ...Middleware) {
	r.mws = append(r.mws, mws...)
}

// Get returns the named command wrapped in the registry middlewares, or nil.
func (r *Registry) Get(name string) Command {
	c, ok := r.commands[name]
	if !ok {
		return nil
	}
	return Apply(c, r.mws...)
}

// GetAll returns the registered commands, unwrapped, sorted by name.
func (r *Registry) GetAll() []Command {
	list := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name() < list[j].Name()
	})
	return list
}

// Dispatch runs args[0] with the remaining args.
func (r *Registry) Dispatch(ctx context.Context, args []string, data any) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: none given", ErrUnknownCommand)
	}
	c := r.Get(args[0])
	if c == nil {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, args[0])
	}
	return c.Run(ctx, &Invocation{Args: args[1:], Data: data})
}

// PrintUsage writes one aligned line per command.
func (r *Registry) PrintUsage(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range r.GetAll() {
		fmt.Fprintf(tw, "  %s\t%s\n", c.Name(), c.Description())
	}
	return tw.Flush()
}
