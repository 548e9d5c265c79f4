package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func TestLimiter_EleventhRequestRejected(t *testing.T) {
	l := New(DefaultConfig())

	for i := 1; i <= 10; i++ {
		d := l.Allow("10.0.0.1", t0.Add(time.Duration(i)*time.Second))
		if !d.Allowed {
			t.Fatalf("Expected request %d to be admitted", i)
		}
		if d.Remaining != 10-i {
			t.Errorf("Request %d: expected remaining %d, got %d", i, 10-i, d.Remaining)
		}
	}

	d := l.Allow("10.0.0.1", t0.Add(30*time.Second))
	if d.Allowed {
		t.Fatal("Expected the 11th request to be rejected")
	}
	if d.RetryAfter != 31 {
		t.Errorf("Expected RetryAfter 31, got %d", d.RetryAfter)
	}

	e, ok := l.m["10.0.0.1"]
	if !ok {
		t.Fatal("Expected a record for the caller")
	}
	if rec := e.rec; rec.Count != 10 {
		t.Errorf("Expected rejection not to increment, count is %d", rec.Count)
	}
}

func TestLimiter_WindowResets(t *testing.T) {
	l := New(DefaultConfig())

	for i := 0; i < 10; i++ {
		l.Allow("caller", t0)
	}
	if l.Allow("caller", t0.Add(59*time.Second)).Allowed {
		t.Fatal("Expected rejection inside the window")
	}

	// The window ends at t0+60s; a request at exactly that instant is still inside it.
	if l.Allow("caller", t0.Add(60*time.Second)).Allowed {
		t.Fatal("Expected rejection at the window boundary")
	}

	d := l.Allow("caller", t0.Add(61*time.Second))
	if !d.Allowed {
		t.Fatal("Expected admission after the window elapsed")
	}

	rec := l.m["caller"].rec
	if rec.Count != 1 {
		t.Errorf("Expected counter reset to 1, got %d", rec.Count)
	}
	if !rec.WindowResetAt.Equal(t0.Add(121 * time.Second)) {
		t.Errorf("Expected new window to end at %v, got %v", t0.Add(121*time.Second), rec.WindowResetAt)
	}
}

func TestLimiter_CallersAreIndependent(t *testing.T) {
	l := New(Config{Window: time.Minute, Max: 2})

	l.Allow("a", t0)
	l.Allow("a", t0)
	if l.Allow("a", t0).Allowed {
		t.Fatal("Expected caller a to be limited")
	}
	if !l.Allow("b", t0).Allowed {
		t.Error("Expected caller b to be unaffected by caller a")
	}
}

func TestLimiter_BoundaryBurst(t *testing.T) {
	l := New(Config{Window: time.Minute, Max: 3})

	admitted := 0
	// Three at the end of one window, three at the start of the next.
	for i := 0; i < 3; i++ {
		if l.Allow("c", t0).Allowed {
			admitted++
		}
	}
	for i := 0; i < 3; i++ {
		if l.Allow("c", t0.Add(time.Minute+time.Millisecond)).Allowed {
			admitted++
		}
	}
	if admitted != 6 {
		t.Errorf("Expected fixed window to admit 6 across the boundary, got %d", admitted)
	}
}

func TestLimiter_ConcurrentCallers(t *testing.T) {
	l := New(Config{Window: time.Minute, Max: 10})

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := make(map[string]int)

	for c := 0; c < 8; c++ {
		key := fmt.Sprintf("10.0.0.%d", c)
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if l.Allow(key, t0).Allowed {
					mu.Lock()
					admitted[key]++
					mu.Unlock()
				}
			}()
		}
	}
	wg.Wait()

	for key, n := range admitted {
		if n != 10 {
			t.Errorf("Caller %s: expected exactly 10 admissions, got %d", key, n)
		}
	}
	if len(l.m) != 8 {
		t.Errorf("Expected 8 records, got %d", len(l.m))
	}
}

func TestNew_Defaults(t *testing.T) {
	l := New(Config{})
	if l.Limit() != 10 {
		t.Errorf("Expected default limit 10, got %d", l.Limit())
	}
}
