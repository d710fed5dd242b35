package clock

import (
	"testing"
	"time"
)

func TestFixedClockDoesNotAdvanceOnItsOwn(t *testing.T) {
	base := time.Unix(1000, 0)
	c := Fixed(base)
	if !c.Now().Equal(base) {
		t.Fatalf("Now() = %v, want %v", c.Now(), base)
	}
	if !c.Now().Equal(base) {
		t.Fatalf("second call to Now() drifted")
	}
}

func TestFixedClockAdvance(t *testing.T) {
	base := time.Unix(1000, 0)
	c := Fixed(base)
	c.Advance(5 * time.Second)
	want := base.Add(5 * time.Second)
	if !c.Now().Equal(want) {
		t.Fatalf("Now() = %v, want %v", c.Now(), want)
	}
}

func TestSystemClockAdvanceIsNoop(t *testing.T) {
	c := New()
	before := c.Now()
	c.Advance(time.Hour) // must not panic, and must not jump the real clock
	after := c.Now()
	if after.Before(before) {
		t.Fatalf("system clock went backwards")
	}
	if after.Sub(before) > time.Second {
		t.Fatalf("Advance should not move a system clock forward by an hour")
	}
}

func TestSetNowFunc(t *testing.T) {
	c := New()
	fixedTime := time.Unix(42, 0)
	c.SetNowFunc(func() time.Time { return fixedTime })
	if !c.Now().Equal(fixedTime) {
		t.Fatalf("Now() = %v, want %v", c.Now(), fixedTime)
	}
}

func TestSeconds(t *testing.T) {
	c := Fixed(time.Unix(100, 0))
	if c.Seconds() != 100.0 {
		t.Fatalf("Seconds() = %v, want 100.0", c.Seconds())
	}
}
