package value

import (
	"sync"

	"golang.org/x/text/unicode/norm"
)

// Handle identifies an interned string. The zero Handle is the empty string.
type Handle uint32

// Pool is an append-only interned string pool.
//
// Strings are normalized to NFC before interning so that visually identical
// names from different plan sources (YAML, CUE, adapters) resolve to the
// same handle.
//
// Thread-safe: adapters intern state names from their own goroutines.
type Pool struct {
	mu      sync.RWMutex
	byName  map[string]Handle
	strings []string
}

// NewPool creates a pool holding only the empty string.
func NewPool() *Pool {
	return &Pool{
		byName:  map[string]Handle{"": 0},
		strings: []string{""},
	}
}

// Intern returns the handle for s, adding it if needed.
func (p *Pool) Intern(s string) Handle {
	s = norm.NFC.String(s)

	p.mu.RLock()
	h, ok := p.byName[s]
	p.mu.RUnlock()
	if ok {
		return h
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.byName[s]; ok {
		return h
	}
	h = Handle(len(p.strings))
	p.strings = append(p.strings, s)
	p.byName[s] = h
	return h
}

// Resolve returns the string for h. Unknown handles resolve to "" and false.
func (p *Pool) Resolve(h Handle) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if int(h) >= len(p.strings) {
		return "", false
	}
	return p.strings[h], true
}

// Len returns the number of interned strings, including "".
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.strings)
}
