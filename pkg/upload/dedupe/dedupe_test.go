package dedupe

import (
	"context"
	"testing"

	"github.com/certen/bundler-gateway/pkg/kv"
)

func TestGuardClaimRejectsSecondClaimant(t *testing.T) {
	g := New(kv.NewMemoryStore())
	ctx := context.Background()

	ok, err := g.Claim(ctx, "abc")
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}

	ok, err = g.Claim(ctx, "abc")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatal("second claim should have been rejected while first is in flight")
	}
}

func TestGuardReleaseAllowsReclaim(t *testing.T) {
	g := New(kv.NewMemoryStore())
	ctx := context.Background()

	if ok, _ := g.Claim(ctx, "abc"); !ok {
		t.Fatal("expected first claim to succeed")
	}
	if err := g.Release(ctx, "abc"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, err := g.Claim(ctx, "abc"); err != nil || !ok {
		t.Fatalf("reclaim after release: ok=%v err=%v", ok, err)
	}
}
