// Package export defines the outbound port for audit sinks: destinations
// that receive committed credit transactions, one row per log entry.
package export

import (
	"context"

	"github.com/martinsvarc/creditmanagement/internal/core"
)

// TransactionSink appends one committed transaction to an external audit
// destination. Implementations must be safe to retry: the audit worker
// redelivers on failure.
type TransactionSink interface {
	Append(ctx context.Context, tx core.CreditTransaction) (rowRef string, err error)
}
