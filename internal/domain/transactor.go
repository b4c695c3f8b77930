package domain

import "context"

// Transactor runs a function inside a single database transaction.
// Repository calls made with the context passed to fn join that
// transaction; the transaction commits when fn returns nil and rolls
// back when fn returns an error.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
