package resilience

import (
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("model backend unavailable")

func tripped(b *Breaker, failures int) {
	for range failures {
		_ = b.Execute(func() error { return errTest })
	}
}

func TestClosedStateAllowsCalls(t *testing.T) {
	b := NewBreaker(3, time.Second)

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
	if b.Status() != "closed" {
		t.Fatalf("status = %q, want closed", b.Status())
	}
}

func TestOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker(3, time.Second)
	tripped(b, 3)

	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Execute() error = %v, want ErrCircuitOpen", err)
	}
	if b.Status() != "open" {
		t.Fatalf("status = %q, want open", b.Status())
	}
}

func TestProbeAfterCooldownClosesOnSuccess(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.clock = func() time.Time { return now }

	tripped(b, 2)

	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Execute() before cooldown error = %v, want ErrCircuitOpen", err)
	}

	now = now.Add(2 * time.Second)

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("probe error = %v", err)
	}
	if !called {
		t.Fatal("probe was not called")
	}
	if b.Status() != "closed" {
		t.Fatalf("status = %q, want closed after probe success", b.Status())
	}
}

func TestProbeFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.clock = func() time.Time { return now }

	tripped(b, 2)
	now = now.Add(2 * time.Second)

	_ = b.Execute(func() error { return errTest })

	if b.Status() != "open" {
		t.Fatalf("status = %q, want open after probe failure", b.Status())
	}
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Execute() after reopen error = %v, want ErrCircuitOpen", err)
	}
}

func TestHalfOpenAdmitsOneProbeAtATime(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Second)
	b.clock = func() time.Time { return now }

	tripped(b, 1)
	now = now.Add(2 * time.Second)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = b.Execute(func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()
	<-probeStarted

	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second call during probe error = %v, want ErrCircuitOpen", err)
	}
	close(release)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Second)

	tripped(b, 2)
	_ = b.Execute(func() error { return nil })
	tripped(b, 2)

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !called {
		t.Fatal("fn was not called, circuit tripped early")
	}
}
