package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvanceFiresDueTimers(t *testing.T) {
	fc := NewFake(time.Unix(1_000, 0))
	ch := fc.After(10 * time.Second)

	fc.Advance(5 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired early")
	default:
	}

	fc.Advance(5 * time.Second)
	select {
	case fired := <-ch:
		assert.Equal(t, time.Unix(1_010, 0), fired)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestFakeAfterNonPositiveFiresImmediately(t *testing.T) {
	fc := NewFake(time.Unix(1_000, 0))
	select {
	case <-fc.After(0):
	case <-time.After(time.Second):
		t.Fatal("zero-duration timer never fired")
	}
}

func TestFakeBlockUntil(t *testing.T) {
	fc := NewFake(time.Unix(1_000, 0))
	done := make(chan struct{})
	go func() {
		fc.BlockUntil(1)
		close(done)
	}()

	fc.After(time.Minute)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("BlockUntil never observed the waiter")
	}
}

func TestSystemClock(t *testing.T) {
	c := System()
	before := time.Now()
	now := c.Now()
	assert.False(t, now.Before(before.Add(-time.Second)))

	select {
	case <-c.After(time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("system timer never fired")
	}
}
