package replay

import "testing"

func TestAcceptsIncreasingSequences(t *testing.T) {
	p := New()
	for i := uint64(0); i < 1000; i++ {
		if p.AlreadyReceived(i) {
			t.Fatalf("sequence %d unexpectedly rejected", i)
		}
	}
}

func TestRejectsExactDuplicate(t *testing.T) {
	p := New()
	if p.AlreadyReceived(42) {
		t.Fatalf("first delivery of 42 should be accepted")
	}
	if !p.AlreadyReceived(42) {
		t.Fatalf("second delivery of 42 should be rejected")
	}
}

func TestMostRecentPlusOneAlwaysAccepted(t *testing.T) {
	p := New()
	p.AlreadyReceived(1000)
	if p.AlreadyReceived(1001) {
		t.Fatalf("most_recent+1 must always be accepted")
	}
}

func TestRejectsTooOld(t *testing.T) {
	p := New()
	p.AlreadyReceived(1000)
	if !p.AlreadyReceived(1000 - BufferSize) {
		t.Fatalf("most_recent-BufferSize must be rejected as too old")
	}
}

func TestAcceptsOutOfOrderWithinWindow(t *testing.T) {
	p := New()
	p.AlreadyReceived(100)
	if p.AlreadyReceived(50) {
		t.Fatalf("sequence within window should be accepted the first time")
	}
	if !p.AlreadyReceived(50) {
		t.Fatalf("repeat of 50 should now be rejected")
	}
}

func TestMonotonicMostRecent(t *testing.T) {
	p := New()
	p.AlreadyReceived(10)
	p.AlreadyReceived(5)
	if p.MostRecent != 10 {
		t.Fatalf("MostRecent = %d, want 10", p.MostRecent)
	}
	p.AlreadyReceived(20)
	if p.MostRecent != 20 {
		t.Fatalf("MostRecent = %d, want 20", p.MostRecent)
	}
}

func TestResetClearsWindow(t *testing.T) {
	p := New()
	p.AlreadyReceived(5)
	p.Reset()
	if p.MostRecent != 0 {
		t.Fatalf("MostRecent after reset = %d, want 0", p.MostRecent)
	}
	if p.AlreadyReceived(5) {
		t.Fatalf("sequence 5 should be freshly acceptable after reset")
	}
}

func TestNoSequenceAcceptedTwice(t *testing.T) {
	p := New()
	accepted := map[uint64]bool{}
	for _, s := range []uint64{1, 2, 3, 300, 301, 4, 302} {
		if !p.AlreadyReceived(s) {
			if accepted[s] {
				t.Fatalf("sequence %d accepted twice", s)
			}
			accepted[s] = true
		} else if !accepted[s] {
			// A first-ever sighting may still be rejected once it has
			// fallen outside the window (e.g. 4 after 300/301/302
			// advanced most_recent past 4+BufferSize).
		}
	}
}
