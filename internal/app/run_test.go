package app

import (
	"testing"
	"time"
)

func TestServeConfig_DerivesAddrFromPort(t *testing.T) {
	cfg := Config{Port: 9090, HTTPReadTimeout: 20 * time.Second}
	sc := ServeConfig(cfg)
	if sc.Addr != ":9090" {
		t.Fatalf("Addr = %q, want :9090", sc.Addr)
	}
	if sc.ReadTimeout != 20*time.Second {
		t.Fatalf("ReadTimeout = %v", sc.ReadTimeout)
	}
}

func TestNonZeroDuration_FallsBackWhenZeroOrNegative(t *testing.T) {
	if got := nonZeroDuration(0, 5*time.Second); got != 5*time.Second {
		t.Fatalf("got %v, want fallback", got)
	}
	if got := nonZeroDuration(-time.Second, 5*time.Second); got != 5*time.Second {
		t.Fatalf("got %v, want fallback", got)
	}
	if got := nonZeroDuration(2*time.Second, 5*time.Second); got != 2*time.Second {
		t.Fatalf("got %v, want passthrough", got)
	}
}
