package health

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCheckFunc(t *testing.T) {
	var _ Probe = CheckFunc(func(ctx context.Context) error { return nil })

	p := CheckFunc(func(ctx context.Context) error { return fmt.Errorf("broken") })
	if err := p.Check(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestFixed(t *testing.T) {
	tests := []struct {
		name   string
		ok     bool
		reason string
		want   string
	}{
		{"ok ignores reason", true, "ignored", ""},
		{"fail with reason", false, "redis offline", "redis offline"},
		{"fail default reason", false, "", "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Fixed(tt.ok, tt.reason).Check(context.Background())
			if tt.want == "" {
				if err != nil {
					t.Fatalf("want pass, got %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.want {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestAll(t *testing.T) {
	ctx := context.Background()
	if err := All().Check(ctx); err != nil {
		t.Fatalf("empty All should pass, got %v", err)
	}
	if err := All(nil, Fixed(true, ""), nil).Check(ctx); err != nil {
		t.Fatalf("nil probes should be skipped, got %v", err)
	}

	err := All(Fixed(true, ""), Fixed(false, "first"), Fixed(false, "second")).Check(ctx)
	if err == nil || err.Error() != "first" {
		t.Fatalf("err = %v, want first failure", err)
	}
}

func TestAll_ShortCircuits(t *testing.T) {
	called := false
	p := All(Fixed(false, "stop"), CheckFunc(func(context.Context) error {
		called = true
		return nil
	}))
	_ = p.Check(context.Background())
	if called {
		t.Fatal("probe after a failure should not run")
	}
}

type fakePinger struct {
	err   error
	delay time.Duration
}

func (f fakePinger) Ping(ctx context.Context) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func TestPing(t *testing.T) {
	ctx := context.Background()

	if err := Ping("session store", fakePinger{}, time.Second).Check(ctx); err != nil {
		t.Fatalf("healthy pinger: %v", err)
	}
	if err := Ping("session store", nil, time.Second).Check(ctx); err != nil {
		t.Fatalf("nil pinger should pass: %v", err)
	}

	down := errors.New("connection refused")
	err := Ping("session store", fakePinger{err: down}, time.Second).Check(ctx)
	if !errors.Is(err, down) {
		t.Fatalf("err = %v, want wrapped ping error", err)
	}
	if !strings.HasPrefix(err.Error(), "session store: ") {
		t.Fatalf("err = %q, want name prefix", err.Error())
	}
}

func TestPing_Timeout(t *testing.T) {
	start := time.Now()
	err := Ping("redis", fakePinger{delay: time.Minute}, 20*time.Millisecond).Check(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout not applied")
	}
}

func TestShutdownGate(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()
	ctx := context.Background()

	if err := p.Check(ctx); err != nil || g.Draining() {
		t.Fatalf("new gate should be open, got %v", err)
	}

	g.Set("shutting down")
	if err := p.Check(ctx); err == nil || err.Error() != "shutting down" {
		t.Fatalf("err = %v, want 'shutting down'", err)
	}
	if !g.Draining() {
		t.Fatal("Draining() = false after Set")
	}

	g.Set("")
	if err := p.Check(ctx); err == nil || err.Error() != "draining" {
		t.Fatalf("err = %v, want default reason", err)
	}

	g.Clear()
	if err := p.Check(ctx); err != nil {
		t.Fatalf("cleared gate should pass, got %v", err)
	}
}

func TestShutdownGate_ConcurrentAccess(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			g.Set("draining")
		}()
		go func() {
			defer wg.Done()
			g.Clear()
		}()
		go func() {
			defer wg.Done()
			_ = p.Check(context.Background())
		}()
	}
	wg.Wait()
}

func TestAll_GateAndStore(t *testing.T) {
	var g ShutdownGate
	storeUp := false
	store := CheckFunc(func(context.Context) error {
		if !storeUp {
			return fmt.Errorf("session store: connection refused")
		}
		return nil
	})
	p := All(g.Probe(), store)
	ctx := context.Background()

	if err := p.Check(ctx); err == nil || !strings.Contains(err.Error(), "session store") {
		t.Fatalf("should fail on store, got %v", err)
	}
	storeUp = true
	if err := p.Check(ctx); err != nil {
		t.Fatalf("should pass, got %v", err)
	}
	g.Set("shutting down")
	if err := p.Check(ctx); err == nil || err.Error() != "shutting down" {
		t.Fatalf("should fail on gate, got %v", err)
	}
}
