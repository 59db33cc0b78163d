package keypool

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

// ErrNoKeys is returned when a pool is constructed without credentials.
var ErrNoKeys = errors.New("no api keys configured")

// Key is one provider credential plus its failure bookkeeping. A key marked
// failed stays failed for the life of the process; only Reset reactivates it.
type Key struct {
	Value      string
	Active     bool
	FailReason string
}

// Show renders the key redacted for operator output.
func (k Key) Show() string {
	v := k.Value
	if len(v) <= 12 {
		return fmt.Sprintf("[%s....]", v)
	}
	return fmt.Sprintf("[%s....%s]", v[:8], v[len(v)-4:])
}

// Pool is an ordered set of credentials shared by every session's retry
// loop. Iteration order is insertion order unless Shuffle is called.
type Pool struct {
	mu   sync.Mutex
	keys []*Key
}

// New builds a pool from a list of credentials. Blank entries are dropped.
func New(values []string) (*Pool, error) {
	p := &Pool{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		p.keys = append(p.keys, &Key{Value: v, Active: true})
	}
	if len(p.keys) == 0 {
		return nil, ErrNoKeys
	}
	return p, nil
}

// Keys returns a snapshot of all keys in current order.
func (p *Pool) Keys() []Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Key, len(p.keys))
	for i, k := range p.keys {
		out[i] = *k
	}
	return out
}

// ActiveKeys returns the credentials not currently marked failed, in
// current order.
func (p *Pool) ActiveKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, k := range p.keys {
		if k.Active {
			out = append(out, k.Value)
		}
	}
	return out
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// MarkFailed flips a key inactive and records why. Unknown values are
// ignored.
func (p *Pool) MarkFailed(value, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range p.keys {
		if k.Value == value {
			k.Active = false
			k.FailReason = reason
			return
		}
	}
}

// Reset reactivates every key. Operator action only.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range p.keys {
		k.Active = true
		k.FailReason = ""
	}
}

// Shuffle randomizes iteration order to spread load across keys.
func (p *Pool) Shuffle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	rand.Shuffle(len(p.keys), func(i, j int) {
		p.keys[i], p.keys[j] = p.keys[j], p.keys[i]
	})
}

// ShowFailed renders the operator diagnostic listing: total key count plus
// each failed key, redacted, with its recorded reason.
func (p *Pool) ShowFailed() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var failed []*Key
	for _, k := range p.keys {
		if !k.Active {
			failed = append(failed, k)
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d api keys configured\n", len(p.keys))
	fmt.Fprintf(&b, "%d keys marked failed:\n", len(failed))
	for _, k := range failed {
		fmt.Fprintf(&b, "%s %s\n", k.Show(), k.FailReason)
	}
	return strings.TrimSpace(b.String())
}
