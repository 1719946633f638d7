package natsutil

import (
	"testing"

	"github.com/nats-io/nats.go"
)

func TestHeaderCarrierRoundTrip(t *testing.T) {
	msg := &nats.Msg{Subject: "test"}
	c := (*headerCarrier)(msg)

	if got := c.Get("traceparent"); got != "" {
		t.Fatalf("expected empty header, got %q", got)
	}
	if keys := c.Keys(); keys != nil {
		t.Fatalf("expected nil keys on empty carrier, got %v", keys)
	}

	c.Set("traceparent", "00-abc-def-01")
	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("Get = %q, want %q", got, "00-abc-def-01")
	}
	if keys := c.Keys(); len(keys) != 1 {
		t.Fatalf("expected 1 key, got %v", keys)
	}
}

func TestHeaderCarrierOverwrite(t *testing.T) {
	msg := &nats.Msg{Subject: "test"}
	c := (*headerCarrier)(msg)
	c.Set("k", "first")
	c.Set("k", "second")
	if got := c.Get("k"); got != "second" {
		t.Fatalf("Get = %q, want %q", got, "second")
	}
}
