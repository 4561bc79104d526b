package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFrozenAdvance(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	c := NewFrozen(start)
	require.Equal(t, start, c.Now())

	next := c.Advance(5 * time.Second)
	require.Equal(t, start.Add(5*time.Second), next)
	require.Equal(t, next, c.Now())
}

func TestFrozenSet(t *testing.T) {
	c := NewFrozen(time.Unix(0, 0))
	target := time.Unix(42, 0)
	c.Set(target)
	require.Equal(t, target, c.Now())
}

func TestSystemClockMonotonic(t *testing.T) {
	c := System()
	a := c.Now()
	time.Sleep(time.Millisecond)
	b := c.Now()
	require.True(t, b.After(a) || b.Equal(a))
}
