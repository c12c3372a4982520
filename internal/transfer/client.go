package transfer

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/visual/ranking-engine/internal/model"
)

// LogClient is a payment client that records transfers in the log and
// returns synthetic external IDs. Used when no payment provider is
// configured so the outbox still drains in development.
type LogClient struct{}

// NewLogClient creates a logging payment client.
func NewLogClient() *LogClient {
	return &LogClient{}
}

// Transfer logs the transfer and returns a generated external ID.
func (c *LogClient) Transfer(_ context.Context, req model.TransferRequest) (string, error) {
	externalID := "log_" + uuid.New().String()
	slog.Info("transfer executed (log client)",
		"transfer_id", req.ID,
		"recipient", req.RecipientID,
		"amount_cents", req.AmountCents,
		"idempotency_key", req.IdempotencyKey,
		"external_id", externalID,
	)
	return externalID, nil
}
