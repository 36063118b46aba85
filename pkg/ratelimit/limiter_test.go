package ratelimit

import (
	"testing"
	"time"
)

func TestTokenBucketAllow(t *testing.T) {
	tb := NewTokenBucket(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Errorf("Expected request %d to be allowed", i+1)
		}
	}

	if tb.Allow() {
		t.Error("Expected request beyond capacity to be denied")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	tb := NewTokenBucket(2, 50*time.Millisecond)

	tb.Allow()
	tb.Allow()
	if tb.Allow() {
		t.Error("Expected bucket to be empty")
	}

	time.Sleep(60 * time.Millisecond)

	if !tb.Allow() {
		t.Error("Expected bucket to be refilled after the period")
	}
}

func TestTokenBucketReset(t *testing.T) {
	tb := NewTokenBucket(1, time.Minute)

	tb.Allow()
	if tb.Allow() {
		t.Error("Expected bucket to be empty")
	}

	tb.Reset()

	if !tb.Allow() {
		t.Error("Expected bucket to be full after reset")
	}
}

func TestTokenBucketWait(t *testing.T) {
	tb := NewTokenBucket(1, 30*time.Millisecond)

	tb.Allow()

	start := time.Now()
	tb.Wait()
	elapsed := time.Since(start)

	if elapsed < 10*time.Millisecond {
		t.Errorf("Expected Wait to block until refill, returned after %s", elapsed)
	}
}
