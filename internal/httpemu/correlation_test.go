package httpemu

import "testing"

func TestCorrelator_RegisterResolve(t *testing.T) {
	c := newCorrelator()

	ch, ok := c.register("id1")
	if !ok {
		t.Fatal("register should succeed for a fresh id")
	}

	if !c.resolve("id1", pendingResult{statusCode: 200}) {
		t.Fatal("resolve should find the registered waiter")
	}

	select {
	case result := <-ch:
		if result.statusCode != 200 {
			t.Errorf("statusCode = %d, want 200", result.statusCode)
		}
	default:
		t.Fatal("expected a result on the channel")
	}
}

func TestCorrelator_DoubleRegisterFails(t *testing.T) {
	c := newCorrelator()
	if _, ok := c.register("id1"); !ok {
		t.Fatal("first register should succeed")
	}
	if _, ok := c.register("id1"); ok {
		t.Error("second register for the same id should fail")
	}
}

func TestCorrelator_ResolveUnregisteredIDReturnsFalse(t *testing.T) {
	c := newCorrelator()
	if c.resolve("missing", pendingResult{}) {
		t.Error("resolve should report false for an unregistered id")
	}
}

func TestCorrelator_AbandonRemovesRegistration(t *testing.T) {
	c := newCorrelator()
	if _, ok := c.register("id1"); !ok {
		t.Fatal("register should succeed")
	}
	c.abandon("id1")
	if c.resolve("id1", pendingResult{}) {
		t.Error("resolve should report false after abandon")
	}
	if _, ok := c.register("id1"); !ok {
		t.Error("register should succeed again after abandon")
	}
}
