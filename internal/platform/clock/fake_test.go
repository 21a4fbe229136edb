package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_AfterFuncFiresInDeadlineOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	var order []string
	c.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	c.AfterFunc(1*time.Second, func() { order = append(order, "a") })

	c.Advance(1500 * time.Millisecond)
	assert.Equal(t, []string{"a"}, order)

	c.Advance(time.Second)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 0, c.Pending())
}

func TestFake_StoppedTimerNeverFires(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })
	require.True(t, tm.Stop())
	require.False(t, tm.Stop())

	c.Advance(5 * time.Second)
	assert.False(t, fired)
}

func TestFake_CallbackCanScheduleFollowUp(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	count := 0
	var arm func()
	arm = func() {
		c.AfterFunc(time.Second, func() {
			count++
			arm()
		})
	}
	arm()

	c.Advance(time.Second)
	c.Advance(time.Second)
	assert.Equal(t, 2, count)
}

func TestFake_TickerDropsWhenFull(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	tk := c.NewTicker(time.Second)
	defer tk.Stop()

	c.Advance(time.Second)
	c.Advance(time.Second)

	<-tk.C
	select {
	case <-tk.C:
		t.Fatalf("expected second tick to be dropped")
	default:
	}
}
