// Package worker contains the audit export worker. It consumes credit
// events, loads the committed transaction row, and appends it to the
// configured audit sink.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/martinsvarc/creditmanagement/internal/amqp"
	"github.com/martinsvarc/creditmanagement/internal/export"
	"github.com/martinsvarc/creditmanagement/internal/storage"
)

type AuditWorker struct {
	storage *storage.LedgerRepository
	sink    export.TransactionSink
}

func NewAuditWorker(storage *storage.LedgerRepository, sink export.TransactionSink) *AuditWorker {
	return &AuditWorker{
		storage: storage,
		sink:    sink,
	}
}

// HandleCreditEvent processes a single credit event. The DB row, not the
// event payload, is what gets exported: the log is the source of truth.
//
// A missing transaction row is dropped with a warning instead of returned as
// an error; requeueing it would redeliver forever since the row will never
// appear.
func (w *AuditWorker) HandleCreditEvent(ctx context.Context, msg *amqp.CreditEventMessage) error {
	slog.InfoContext(ctx, "processing credit event",
		"event_id", msg.EventID,
		"transaction_id", msg.TransactionID,
		"type", msg.Type)

	tx, err := w.storage.GetTransaction(ctx, msg.TransactionID)
	if err != nil {
		if errors.Is(err, storage.ErrTransactionNotFound) {
			slog.WarnContext(ctx, "transaction row missing, dropping event",
				"event_id", msg.EventID,
				"transaction_id", msg.TransactionID)
			return nil
		}
		return fmt.Errorf("get transaction from storage: %w", err)
	}

	rowRef, err := w.sink.Append(ctx, tx)
	if err != nil {
		return fmt.Errorf("append transaction to audit sink: %w", err)
	}

	slog.InfoContext(ctx, "exported transaction",
		"transaction_id", tx.ID,
		"team_id", tx.TeamID,
		"row_ref", rowRef)
	return nil
}
