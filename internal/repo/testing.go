package repo

import (
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SeedBalance sets the balance of an existing wallet directly. Test helper.
func SeedBalance(s *MemoryStore, id uuid.UUID, bal decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.wallets[id]
	w.Balance = bal
	s.wallets[id] = w
}

// FailCommits makes the next n unit commits fail with err, after every write
// of the unit has been staged. Test helper for crash/rollback scenarios.
func FailCommits(s *MemoryStore, n int, err error) {
	var mu sync.Mutex
	remaining := n
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeCommit = func() error {
		mu.Lock()
		defer mu.Unlock()
		if remaining == 0 {
			return nil
		}
		remaining--
		return err
	}
}
