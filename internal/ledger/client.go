// Package ledger defines the settlement-ledger query contract. The real
// upstream API is an external collaborator; this package only fixes the
// interface the monitoring cycle consumes.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/qrpay/reconciler/internal/models"
)

// Client queries the settlement account's transaction ledger for a window.
type Client interface {
	// Query returns the transaction records between start and end. A
	// transport or API failure aborts the caller's cycle.
	Query(ctx context.Context, start, end time.Time) ([]models.LedgerRecord, error)
}

// MockClient serves canned records for tests and local runs. Records outside
// the queried window are filtered out, like the upstream API would.
type MockClient struct {
	mu      sync.Mutex
	records []models.LedgerRecord
	err     error
}

// NewMockClient creates an empty mock ledger.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// AddRecord appends a record to the mock ledger.
func (c *MockClient) AddRecord(rec models.LedgerRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

// FailWith makes subsequent queries return err.
func (c *MockClient) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Query implements Client.
func (c *MockClient) Query(ctx context.Context, start, end time.Time) ([]models.LedgerRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	var out []models.LedgerRecord
	for _, rec := range c.records {
		if rec.OccurredAt.Before(start) || rec.OccurredAt.After(end) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
