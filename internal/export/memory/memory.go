// Package memory provides an in-memory audit sink for tests and for running
// without external integrations.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/martinsvarc/creditmanagement/internal/core"
)

type Sink struct {
	mu      sync.Mutex
	rows    []core.CreditTransaction
	failErr error
}

func New() *Sink {
	return &Sink{}
}

// Append stores the transaction and returns a synthetic row reference.
func (s *Sink) Append(_ context.Context, tx core.CreditTransaction) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return "", s.failErr
	}
	s.rows = append(s.rows, tx)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (s *Sink) Rows() []core.CreditTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.CreditTransaction(nil), s.rows...)
}

// FailWith makes subsequent Appends return err; pass nil to heal.
func (s *Sink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}
