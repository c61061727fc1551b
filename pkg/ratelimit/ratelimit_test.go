package ratelimit_test

import (
	"testing"
	"time"

	"github.com/coagline/coagline/pkg/ratelimit"
)

func TestAllowUpToLimit(t *testing.T) {
	l := ratelimit.New(3, time.Minute)
	defer l.Close()

	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow("k"); !ok {
			t.Fatalf("attempt %d denied, want allowed", i+1)
		}
	}
	ok, retryAfter := l.Allow("k")
	if ok {
		t.Fatal("attempt over the limit was allowed")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("retryAfter = %v, want within the window", retryAfter)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := ratelimit.New(1, time.Minute)
	defer l.Close()

	if ok, _ := l.Allow("a"); !ok {
		t.Fatal("first key denied")
	}
	if ok, _ := l.Allow("b"); !ok {
		t.Fatal("second key denied, keys must not share a bucket")
	}
	if ok, _ := l.Allow("a"); ok {
		t.Fatal("first key allowed past its limit")
	}
}

func TestWindowSlides(t *testing.T) {
	l := ratelimit.New(2, 50*time.Millisecond)
	defer l.Close()

	l.Allow("k")
	l.Allow("k")
	if ok, _ := l.Allow("k"); ok {
		t.Fatal("allowed past limit inside window")
	}

	time.Sleep(60 * time.Millisecond)

	if ok, _ := l.Allow("k"); !ok {
		t.Fatal("denied after the window slid past old attempts")
	}
}
