package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryWindow(t *testing.T) {
	l := New(3, time.Minute, nil)
	now := time.Now()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(context.Background(), "alice", now)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}

	d, err := l.Allow(context.Background(), "alice", now)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if d.Allowed {
		t.Fatal("fourth request allowed, want denied")
	}
	if d.RetryAfter != 60 {
		t.Fatalf("RetryAfter = %d, want 60", d.RetryAfter)
	}
}

func TestMemoryWindowSlides(t *testing.T) {
	l := New(2, time.Minute, nil)
	now := time.Now()

	l.Allow(context.Background(), "alice", now)
	l.Allow(context.Background(), "alice", now)

	// Both hits fall out of the window.
	d, _ := l.Allow(context.Background(), "alice", now.Add(2*time.Minute))
	if !d.Allowed {
		t.Fatal("request after window denied, want allowed")
	}
}

func TestPrincipalsIsolated(t *testing.T) {
	l := New(1, time.Minute, nil)
	now := time.Now()

	l.Allow(context.Background(), "alice", now)
	d, _ := l.Allow(context.Background(), "bob", now)
	if !d.Allowed {
		t.Fatal("bob denied after alice's request, want allowed")
	}
}

func TestEmptyPrincipalBucketsAsAnonymous(t *testing.T) {
	l := New(1, time.Minute, nil)
	now := time.Now()

	l.Allow(context.Background(), "", now)
	d, _ := l.Allow(context.Background(), "anonymous", now)
	if d.Allowed {
		t.Fatal("anonymous shares the empty-principal bucket, want denied")
	}
}

func TestDisabledLimiter(t *testing.T) {
	l := New(0, time.Minute, nil)
	for i := 0; i < 100; i++ {
		d, err := l.Allow(context.Background(), "alice", time.Now())
		if err != nil || !d.Allowed {
			t.Fatalf("Allow() = (%+v, %v), want allowed", d, err)
		}
	}
}

func TestNilLimiterAllows(t *testing.T) {
	var l *Limiter
	d, err := l.Allow(context.Background(), "alice", time.Now())
	if err != nil || !d.Allowed {
		t.Fatalf("Allow() = (%+v, %v), want allowed", d, err)
	}
}

func TestRemainingCountsDown(t *testing.T) {
	l := New(3, time.Minute, nil)
	now := time.Now()

	want := []int{2, 1, 0}
	for i, w := range want {
		d, _ := l.Allow(context.Background(), "alice", now)
		if d.Remaining != w {
			t.Fatalf("request %d Remaining = %d, want %d", i+1, d.Remaining, w)
		}
	}
}
