package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_AdvancesPerCall(t *testing.T) {
	start := time.Unix(1700000000, 0)
	c := NewFake(start, time.Second)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(time.Second), c.Now())
	assert.Equal(t, start.Add(2*time.Second), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestSystem_ReturnsWallClock(t *testing.T) {
	before := time.Now()
	got := System().Now()
	assert.False(t, got.Before(before))
}
