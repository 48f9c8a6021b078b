package lockreg

import "testing"

func TestAcquireRelease(t *testing.T) {
	r := New()

	if !r.Acquire("alice", "Example.COM") {
		t.Fatal("first acquire should succeed")
	}
	if r.Acquire("alice", "example.com") {
		t.Fatal("second acquire of the same mailbox should fail while held")
	}
	if !r.Release("ALICE", "example.com") {
		t.Fatal("release should report the lock was held")
	}
	if !r.Acquire("alice", "example.com") {
		t.Fatal("acquire after release should succeed")
	}
}

func TestReleaseNotHeld(t *testing.T) {
	r := New()
	if r.Release("nobody", "example.com") {
		t.Fatal("release of an unheld lock should report false")
	}
}

func TestIndependentMailboxes(t *testing.T) {
	r := New()
	if !r.Acquire("alice", "example.com") {
		t.Fatal("acquire alice should succeed")
	}
	if !r.Acquire("bob", "example.com") {
		t.Fatal("acquire bob should succeed independently of alice's lock")
	}
}
