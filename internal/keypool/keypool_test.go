package keypool

import (
	"strings"
	"testing"
)

func TestNewRejectsEmptyInput(t *testing.T) {
	if _, err := New(nil); err != ErrNoKeys {
		t.Fatalf("expected ErrNoKeys, got %v", err)
	}
	if _, err := New([]string{"", "  "}); err != ErrNoKeys {
		t.Fatalf("expected ErrNoKeys for blank keys, got %v", err)
	}
}

func TestActiveKeysOrderAndFailure(t *testing.T) {
	pool, err := New([]string{"sk-first-key-0001", "sk-second-key-0002", "sk-third-key-0003"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	active := pool.ActiveKeys()
	if len(active) != 3 || active[0] != "sk-first-key-0001" || active[2] != "sk-third-key-0003" {
		t.Fatalf("unexpected active keys: %v", active)
	}

	pool.MarkFailed("sk-second-key-0002", "401 unauthorized")
	active = pool.ActiveKeys()
	if len(active) != 2 {
		t.Fatalf("expected 2 active keys, got %v", active)
	}
	for _, k := range active {
		if k == "sk-second-key-0002" {
			t.Fatalf("failed key still active")
		}
	}

	// failure state is sticky until Reset
	pool.Reset()
	if got := len(pool.ActiveKeys()); got != 3 {
		t.Fatalf("expected 3 active keys after reset, got %d", got)
	}
}

func TestMarkFailedUnknownKeyIgnored(t *testing.T) {
	pool, err := New([]string{"sk-only-key-00000001"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	pool.MarkFailed("sk-missing", "whatever")
	if got := len(pool.ActiveKeys()); got != 1 {
		t.Fatalf("unknown key failure affected pool: %d active", got)
	}
}

func TestShowFailedRedactsCredentials(t *testing.T) {
	pool, err := New([]string{"sk-live-abcdefghijklmnop"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	pool.MarkFailed("sk-live-abcdefghijklmnop", "timeout")

	out := pool.ShowFailed()
	if strings.Contains(out, "sk-live-abcdefghijklmnop") {
		t.Fatalf("diagnostic leaks full credential: %s", out)
	}
	if !strings.Contains(out, "[sk-live-....mnop]") {
		t.Fatalf("missing redacted key: %s", out)
	}
	if !strings.Contains(out, "timeout") {
		t.Fatalf("missing failure reason: %s", out)
	}
	if !strings.Contains(out, "1 keys marked failed") {
		t.Fatalf("missing failure count: %s", out)
	}
}

func TestShuffleKeepsAllKeys(t *testing.T) {
	values := []string{"k-aaaaaaaaaaaa", "k-bbbbbbbbbbbb", "k-cccccccccccc", "k-dddddddddddd"}
	pool, err := New(values)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	pool.Shuffle()
	active := pool.ActiveKeys()
	if len(active) != len(values) {
		t.Fatalf("shuffle lost keys: %v", active)
	}
	seen := make(map[string]bool)
	for _, k := range active {
		seen[k] = true
	}
	for _, v := range values {
		if !seen[v] {
			t.Fatalf("shuffle dropped key %s", v)
		}
	}
}
