package testutil

import (
	"testing"
)

func TestClock(t *testing.T) {
	c := NewClock(100)
	c.Advance(5)
	if got := c.Now().Unix(); got != 105 {
		t.Fatalf("%d != 105", got)
	}
	c.Set(7)
	if got := c.Now().Unix(); got != 7 {
		t.Fatalf("%d != 7", got)
	}
}
