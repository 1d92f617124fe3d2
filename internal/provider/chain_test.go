package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mockProvider is a scriptable provider for chain tests.
type mockProvider struct {
	name      string
	result    map[string]any
	err       error
	synthetic bool
	calls     int
	block     bool // block until the per-call context expires
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Synthetic() bool { return m.synthetic }

func (m *mockProvider) Fetch(ctx context.Context, _ map[string]any) (map[string]any, error) {
	m.calls++
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func newTestChain(t *testing.T, live []Provider, terminal Provider) *Chain {
	t.Helper()
	c, err := NewChain("test", 50*time.Millisecond, nil, live, terminal)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	return c
}

func TestChainFirstSuccessWins(t *testing.T) {
	first := &mockProvider{name: "first", result: map[string]any{"from": "first"}}
	second := &mockProvider{name: "second", result: map[string]any{"from": "second"}}
	terminal := &mockProvider{name: "demo", result: map[string]any{"from": "demo"}, synthetic: true}

	c := newTestChain(t, []Provider{first, second}, terminal)
	result, name, err := c.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if name != "first" || result["from"] != "first" {
		t.Fatalf("expected first provider to win, got %s %v", name, result)
	}
	if second.calls != 0 || terminal.calls != 0 {
		t.Fatalf("later providers should not be called: second=%d terminal=%d", second.calls, terminal.calls)
	}
}

func TestChainAdvancesOnNonFatalErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"unconfigured", Unconfigured("p", "no key")},
		{"rate_limited", RateLimited("p", "429", nil)},
		{"not_found", NotFoundErr("p", "no data")},
		{"transient", TransientErr("p", "connection reset", nil)},
		{"untagged", errors.New("something odd happened")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			failing := &mockProvider{name: "failing", err: tc.err}
			terminal := &mockProvider{name: "demo", result: map[string]any{"ok": true}, synthetic: true}

			c := newTestChain(t, []Provider{failing}, terminal)
			result, name, err := c.Execute(context.Background(), nil)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if name != "demo" || result["ok"] != true {
				t.Fatalf("expected terminal fallback, got %s %v", name, result)
			}
		})
	}
}

func TestChainFatalAborts(t *testing.T) {
	fatal := &mockProvider{name: "fatal", err: FatalErr("fatal", "bad request", nil)}
	terminal := &mockProvider{name: "demo", result: map[string]any{"ok": true}, synthetic: true}

	c := newTestChain(t, []Provider{fatal}, terminal)
	_, _, err := c.Execute(context.Background(), nil)
	if err == nil {
		t.Fatal("expected fatal error to abort the chain")
	}
	if terminal.calls != 0 {
		t.Fatalf("terminal provider should not run after fatal error, calls=%d", terminal.calls)
	}
}

func TestChainTimeoutAdvances(t *testing.T) {
	slow := &mockProvider{name: "slow", block: true}
	terminal := &mockProvider{name: "demo", result: map[string]any{"ok": true}, synthetic: true}

	c := newTestChain(t, []Provider{slow}, terminal)
	result, name, err := c.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if name != "demo" || result["ok"] != true {
		t.Fatalf("expected timeout to advance to terminal, got %s %v", name, result)
	}
}

func TestChainRequiresSyntheticTerminal(t *testing.T) {
	notSynthetic := &mockProvider{name: "live"}
	if _, err := NewChain("test", time.Second, nil, nil, notSynthetic); err == nil {
		t.Fatal("expected error for non-synthetic terminal provider")
	}
	if _, err := NewChain("test", time.Second, nil, nil, nil); err == nil {
		t.Fatal("expected error for missing terminal provider")
	}
}

func TestChainContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	terminal := &mockProvider{name: "demo", result: map[string]any{"ok": true}, synthetic: true}
	c := newTestChain(t, nil, terminal)
	if _, _, err := c.Execute(ctx, nil); err == nil {
		t.Fatal("expected error from canceled context")
	}
}

func TestKindOfClassification(t *testing.T) {
	cases := []struct {
		msg  string
		want Kind
	}{
		{"got 429 too many requests", KindRateLimited},
		{"invalid api key provided", KindUnconfigured},
		{"entity not found upstream", KindNotFound},
		{"upstream returned 400 bad request", KindFatal},
		{"connection reset by peer", KindTransient},
		{"deadline exceeded", KindTransient},
	}
	for _, tc := range cases {
		if got := KindOf(errors.New(tc.msg)); got != tc.want {
			t.Errorf("KindOf(%q) = %s, want %s", tc.msg, got, tc.want)
		}
	}
	if got := KindOf(context.DeadlineExceeded); got != KindTransient {
		t.Errorf("KindOf(DeadlineExceeded) = %s, want TRANSIENT", got)
	}
}
