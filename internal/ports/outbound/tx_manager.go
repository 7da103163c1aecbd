package outbound

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// TxManager runs a function inside one database transaction. The trigger
// engine and the recommendation processor push every mutation of a work unit
// through it: fn returning nil commits the unit, any error rolls the whole
// unit back. Broker and network calls stay outside fn; only database work
// belongs in a transaction.
type TxManager interface {
	// WithTransaction opens a transaction, passes it to fn, and commits when
	// fn returns nil. An error from fn rolls back and is returned unchanged.
	WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}
