package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echo struct {
	name string
	got  []string
}

func (e *echo) Name() string        { return e.name }
func (e *echo) Description() string { return "echo " + e.name }
func (e *echo) Run(_ context.Context, inv *Invocation) error {
	e.got = inv.Args
	return nil
}

func tag(trace *[]string, name string) Middleware {
	return func(c Command) Command {
		return Wrap(c, func(ctx context.Context, inv *Invocation) error {
			*trace = append(*trace, name)
			return c.Run(ctx, inv)
		})
	}
}

func TestApplyOrderFirstIsOutermost(t *testing.T) {
	var trace []string
	e := &echo{name: "x"}
	c := Apply(e, tag(&trace, "outer"), tag(&trace, "inner"))

	require.NoError(t, c.Run(context.Background(), &Invocation{}))
	assert.Equal(t, []string{"outer", "inner"}, trace)
	assert.Same(t, e, Root(c))
	assert.Equal(t, "x", c.Name())
}

func TestDispatch(t *testing.T) {
	r := NewRegistry()
	a := &echo{name: "alpha"}
	r.Register(a)
	r.Register(&echo{name: "beta"})

	var trace []string
	r.Use(tag(&trace, "log"))

	require.NoError(t, r.Dispatch(context.Background(), []string{"alpha", "1", "2"}, nil))
	assert.Equal(t, []string{"1", "2"}, a.got)
	assert.Equal(t, []string{"log"}, trace)

	assert.ErrorIs(t, r.Dispatch(context.Background(), []string{"gamma"}, nil), ErrUnknownCommand)
	assert.ErrorIs(t, r.Dispatch(context.Background(), nil, nil), ErrUnknownCommand)
	assert.Nil(t, r.Get("gamma"))
}

func TestPrintUsageSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(&echo{name: "zeta"})
	r.Register(&echo{name: "alpha"})

	var buf bytes.Buffer
	require.NoError(t, r.PrintUsage(&buf))
	out := buf.String()
	assert.Less(t, bytes.Index([]byte(out), []byte("alpha")), bytes.Index([]byte(out), []byte("zeta")))
	assert.Contains(t, out, "echo zeta")
}
