package filter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChainRunsInPriorityOrder(t *testing.T) {
	var order []string
	chain := NewChain([]Step{
		{Priority: 30000, Name: "send", Run: func(any) (Verdict, error) { order = append(order, "send"); return Continue, nil }},
		{Priority: 20000, Name: "check", Run: func(any) (Verdict, error) { order = append(order, "check"); return Continue, nil }},
		{Priority: 40000, Name: "handle", Run: func(any) (Verdict, error) { order = append(order, "handle"); return Continue, nil }},
	})

	v, name, err := chain.Run(nil)
	require.Equal(t, Continue, v)
	require.Empty(t, name)
	require.NoError(t, err)
	require.Equal(t, []string{"check", "send", "handle"}, order)
}

func TestChainStopsOnAbort(t *testing.T) {
	var ran []string
	chain := NewChain([]Step{
		{Priority: 1, Name: "a", Run: func(any) (Verdict, error) { ran = append(ran, "a"); return Continue, nil }},
		{Priority: 2, Name: "b", Run: func(any) (Verdict, error) { ran = append(ran, "b"); return Abort, errors.New("rejected") }},
		{Priority: 3, Name: "c", Run: func(any) (Verdict, error) { ran = append(ran, "c"); return Continue, nil }},
	})

	v, name, err := chain.Run(nil)
	require.Equal(t, Abort, v)
	require.Equal(t, "b", name)
	require.Error(t, err)
	require.Equal(t, []string{"a", "b"}, ran)
}

func TestChainStopsOnCancelWithoutError(t *testing.T) {
	chain := NewChain([]Step{
		{Priority: 1, Name: "relay", Run: func(any) (Verdict, error) { return Cancel, nil }},
		{Priority: 2, Name: "unreached", Run: func(any) (Verdict, error) { t.Fatal("should not run"); return Continue, nil }},
	})

	v, name, err := chain.Run(nil)
	require.Equal(t, Cancel, v)
	require.Equal(t, "relay", name)
	require.NoError(t, err)
}

func TestRegistryPanicsOnDuplicate(t *testing.T) {
	r := NewRegistry()
	key := Key{PacketType: 1, State: 0}
	r.Register(key, NewChain(nil))
	require.Panics(t, func() {
		r.Register(key, NewChain(nil))
	})
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	key := Key{PacketType: 3, State: 1}
	chain := NewChain(nil)
	r.Register(key, chain)

	got, ok := r.Lookup(key)
	require.True(t, ok)
	require.Same(t, chain, got)

	_, ok = r.Lookup(Key{PacketType: 99, State: 99})
	require.False(t, ok)
}
