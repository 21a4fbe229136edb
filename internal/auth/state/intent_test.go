package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/platform/clock"
)

func TestLogoutIntent_ConsumeClears(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	i := NewLogoutIntent(clk, 0)

	assert.False(t, i.Consume())
	i.Mark()
	assert.True(t, i.Consume())
	assert.False(t, i.Consume())
}

func TestLogoutIntent_Expires(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	i := NewLogoutIntent(clk, 5*time.Second)

	i.Mark()
	clk.Advance(6 * time.Second)
	assert.False(t, i.Consume())
}
