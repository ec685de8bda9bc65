// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sentinel-ops/sentinel/internal/errs"
	"github.com/sentinel-ops/sentinel/internal/signal"
)

func testSignal(value string) *signal.Signal {
	return signal.New(
		signal.TypeMemberJoined,
		signal.Subject{Kind: signal.KindUser, Value: value},
		"test-detector",
	)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestPublishRejectsInvalidSignal(t *testing.T) {
	b := New(DefaultConfig())
	defer b.Close()

	tests := []struct {
		name   string
		mutate func(*signal.Signal)
	}{
		{"unknown type", func(s *signal.Signal) { s.Type = "BOGUS" }},
		{"empty subject value", func(s *signal.Signal) { s.Subject.Value = "" }},
		{"unknown subject kind", func(s *signal.Signal) { s.Subject.Kind = "planet" }},
		{"empty source", func(s *signal.Signal) { s.Source = "" }},
		{"confidence out of range", func(s *signal.Signal) { s.Confidence = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := testSignal("u1")
			tt.mutate(sig)
			err := b.Publish(context.Background(), sig)
			if !errs.IsValidation(err) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}

	if err := b.Publish(context.Background(), nil); !errs.IsValidation(err) {
		t.Errorf("expected ValidationError for nil signal, got %v", err)
	}
}

func TestDeliveryPreservesPerSubscriberOrder(t *testing.T) {
	b := New(DefaultConfig())
	defer b.Close()

	var mu sync.Mutex
	var got []string
	err := b.Subscribe(signal.TypeMemberJoined, "order-check", func(ctx context.Context, sig *signal.Signal) error {
		mu.Lock()
		got = append(got, sig.Subject.Value)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	const n = 20
	for i := 0; i < n; i++ {
		if err := b.Publish(context.Background(), testSignal(fmt.Sprintf("u%03d", i))); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	}, "all signals delivered")

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if want := fmt.Sprintf("u%03d", i); v != want {
			t.Fatalf("position %d: got %s, want %s", i, v, want)
		}
	}
}

func TestOrderPreservedUnderBackpressure(t *testing.T) {
	// A one-slot inbox forces the publisher to wait for the ring on nearly
	// every publish; ordering must survive the handoff.
	b := New(Config{
		InboxSize:      1,
		OverflowPolicy: PolicyBlock,
		CloseTimeout:   time.Second,
	})
	defer b.Close()

	var mu sync.Mutex
	var got []string
	err := b.Subscribe(signal.TypeMemberJoined, "slow-order", func(ctx context.Context, sig *signal.Signal) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		got = append(got, sig.Subject.Value)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	const n = 25
	for i := 0; i < n; i++ {
		if err := b.Publish(context.Background(), testSignal(fmt.Sprintf("u%03d", i))); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	}, "all signals delivered")

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if want := fmt.Sprintf("u%03d", i); v != want {
			t.Fatalf("position %d: got %s, want %s", i, v, want)
		}
	}
}

func TestAllSubscribersReceiveEachSignal(t *testing.T) {
	b := New(DefaultConfig())
	defer b.Close()

	counts := make(map[string]int)
	var mu sync.Mutex
	for _, name := range []string{"first", "second", "third"} {
		name := name
		err := b.Subscribe(signal.TypeMemberJoined, name, func(ctx context.Context, sig *signal.Signal) error {
			mu.Lock()
			counts[name]++
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe %s: %v", name, err)
		}
	}

	for i := 0; i < 5; i++ {
		if err := b.Publish(context.Background(), testSignal("u1")); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts["first"] == 5 && counts["second"] == 5 && counts["third"] == 5
	}, "fan-out delivery")
}

func TestHandlerFailureDoesNotStopDelivery(t *testing.T) {
	b := New(DefaultConfig())
	defer b.Close()

	var mu sync.Mutex
	var delivered int
	err := b.Subscribe(signal.TypeMemberJoined, "flaky", func(ctx context.Context, sig *signal.Signal) error {
		mu.Lock()
		defer mu.Unlock()
		delivered++
		if delivered == 1 {
			return errors.New("transient failure")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := b.Publish(context.Background(), testSignal("u1")); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 3
	}, "delivery after handler error")
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	b := New(DefaultConfig())
	defer b.Close()

	var mu sync.Mutex
	var delivered int
	err := b.Subscribe(signal.TypeMemberJoined, "panicky", func(ctx context.Context, sig *signal.Signal) error {
		mu.Lock()
		delivered++
		n := delivered
		mu.Unlock()
		if n == 1 {
			panic("handler bug")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := b.Publish(context.Background(), testSignal("u1")); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 2
	}, "delivery after handler panic")
}

func TestDuplicateSubscriberRejected(t *testing.T) {
	b := New(DefaultConfig())
	defer b.Close()

	h := func(ctx context.Context, sig *signal.Signal) error { return nil }
	if err := b.Subscribe(signal.TypeMemberJoined, "dup", h); err != nil {
		t.Fatalf("first Subscribe: %v", err)
	}
	if err := b.Subscribe(signal.TypeMemberJoined, "dup", h); !errs.IsConflict(err) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	// Same name on a different topic is a distinct pair.
	if err := b.Subscribe(signal.TypeThreatDetected, "dup", h); err != nil {
		t.Fatalf("Subscribe other topic: %v", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	b := New(DefaultConfig())
	defer b.Close()

	h := func(ctx context.Context, sig *signal.Signal) error { return nil }
	if err := b.Subscribe("BOGUS", "s", h); !errs.IsValidation(err) {
		t.Errorf("unknown type: expected ValidationError, got %v", err)
	}
	if err := b.Subscribe(signal.TypeMemberJoined, "", h); !errs.IsValidation(err) {
		t.Errorf("empty name: expected ValidationError, got %v", err)
	}
	if err := b.Subscribe(signal.TypeMemberJoined, "s", nil); !errs.IsValidation(err) {
		t.Errorf("nil handler: expected ValidationError, got %v", err)
	}
}

func TestDropOldestEvictsAndCounts(t *testing.T) {
	b := New(Config{
		InboxSize:      2,
		OverflowPolicy: PolicyDropOldest,
		CloseTimeout:   time.Second,
	})
	defer b.Close()

	release := make(chan struct{})
	var mu sync.Mutex
	var got []string
	err := b.Subscribe(signal.TypeMemberJoined, "slow", func(ctx context.Context, sig *signal.Signal) error {
		<-release
		mu.Lock()
		got = append(got, sig.Subject.Value)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	const n = 30
	for i := 0; i < n; i++ {
		if err := b.Publish(context.Background(), testSignal(fmt.Sprintf("u%03d", i))); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	// The publisher never blocked, so with a ring of 2 and a stuck handler
	// most signals must have been evicted.
	waitFor(t, func() bool { return b.Dropped() > 0 }, "overflow counter to move")
	close(release)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return uint64(len(got))+b.Dropped() >= n-1
	}, "delivered plus dropped to account for published")

	// Survivors must still be in publish order.
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("out of order after eviction: %s before %s", got[i-1], got[i])
		}
	}
}

func TestPublishAfterClose(t *testing.T) {
	b := New(DefaultConfig())
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Publish(context.Background(), testSignal("u1")); err == nil {
		t.Fatal("expected error publishing on closed bus")
	}
	if err := b.Subscribe(signal.TypeMemberJoined, "late", func(ctx context.Context, sig *signal.Signal) error { return nil }); err == nil {
		t.Fatal("expected error subscribing on closed bus")
	}
	// Close is idempotent.
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
