package handler_test

import (
	"testing"
	"time"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/handler"

	"github.com/jonboulle/clockwork"
)

func TestLoginLimiter_PerIP(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := handler.NewLoginLimiterWithClock(1, 2, clock)

	if !l.Allow("10.0.0.1") || !l.Allow("10.0.0.1") {
		t.Fatal("expected the burst to be allowed")
	}
	if l.Allow("10.0.0.1") {
		t.Error("expected the third attempt to be limited")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("another address has its own bucket")
	}

	clock.Advance(time.Second)
	if !l.Allow("10.0.0.1") {
		t.Error("expected a token after one second")
	}
}

func TestLoginLimiter_DropsIdleAddresses(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := handler.NewLoginLimiterWithClock(1, 1, clock)

	l.Allow("10.0.0.1")
	l.Allow("10.0.0.2")
	if l.Tracked() != 2 {
		t.Fatalf("expected 2 tracked addresses, got %d", l.Tracked())
	}

	clock.Advance(11 * time.Minute)
	l.Allow("10.0.0.3")
	if l.Tracked() != 1 {
		t.Errorf("expected idle addresses to be dropped, got %d tracked", l.Tracked())
	}
}
