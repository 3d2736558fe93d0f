package ratelimiter

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTokenBucketBurstAndRefill(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	tb := newTokenBucket(2, 3, clk.now)

	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("request %d within capacity was rejected", i+1)
		}
	}
	if tb.Allow() {
		t.Fatalf("request beyond capacity was allowed")
	}
	clk.advance(500 * time.Millisecond)
	if !tb.Allow() {
		t.Errorf("one token should have been refilled after 500ms at 2/s")
	}
	if tb.Allow() {
		t.Errorf("only one token should have been refilled")
	}
	clk.advance(time.Hour)
	allowed := 0
	for tb.Allow() {
		allowed++
	}
	if allowed != 3 {
		t.Errorf("refill exceeded capacity: %d tokens", allowed)
	}
}

func TestFixedWindowCounter(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	c := newFixedWindowCounter(2, time.Minute, clk.now)
	if !c.Allow() || !c.Allow() {
		t.Fatalf("requests within the limit were rejected")
	}
	if c.Allow() {
		t.Fatalf("third request in the window was allowed")
	}
	clk.advance(time.Minute)
	if !c.Allow() {
		t.Errorf("new window did not reset the count")
	}
}

func TestKeyedIsolatesClientsAndForgetsIdleOnes(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	k := newKeyed(func() RateLimiter { return newFixedWindowCounter(1, time.Hour, clk.now) }, time.Minute, clk.now)

	if !k.AllowKey("a") || k.AllowKey("a") {
		t.Fatalf("client a should get exactly one request")
	}
	if !k.AllowKey("b") {
		t.Fatalf("client b was limited by client a")
	}
	if k.Len() != 2 {
		t.Fatalf("tracked %d clients, want 2", k.Len())
	}
	clk.advance(2 * time.Minute)
	if !k.AllowKey("c") {
		t.Fatalf("client c rejected")
	}
	if k.Len() != 1 {
		t.Errorf("idle clients were not removed, tracking %d", k.Len())
	}
}
