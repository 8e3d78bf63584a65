package discovery

import (
	"sync"
	"time"
)

// banList is a time-limited denylist of addresses that recently failed at the
// network-transport level. Entries expire after the TTL; expired entries are
// pruned lazily on lookup.
type banList struct {
	mu      sync.Mutex
	entries map[string]time.Time // address -> ban expiry
	ttl     time.Duration
	now     func() time.Time
}

func newBanList(ttl time.Duration) *banList {
	return &banList{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Ban places an address under a ban for the configured TTL.
func (b *banList) Ban(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[addr] = b.now().Add(b.ttl)
}

// Banned reports whether the address is under an active ban.
func (b *banList) Banned(addr string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	expiry, ok := b.entries[addr]
	if !ok {
		return false
	}

	if b.now().After(expiry) {
		delete(b.entries, addr)
		return false
	}

	return true
}

// Len returns the number of active bans, pruning expired entries.
func (b *banList) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	for addr, expiry := range b.entries {
		if now.After(expiry) {
			delete(b.entries, addr)
		}
	}

	return len(b.entries)
}
