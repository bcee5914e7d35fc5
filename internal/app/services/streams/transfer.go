package streams

import (
	"context"

	"github.com/NStream-Network/stream_layer/internal/app/domain/stream"
)

// TransferInitiator hands value to the outside world. For the native asset
// the movement completes before Initiate returns; for token assets Initiate
// only submits the request, and the outcome arrives later through
// ResolveTransfer. An Initiate error means the request was never submitted.
type TransferInitiator interface {
	Initiate(ctx context.Context, t stream.Transfer) error
}

// InitiatorFunc adapts a function to the TransferInitiator interface.
type InitiatorFunc func(ctx context.Context, t stream.Transfer) error

func (f InitiatorFunc) Initiate(ctx context.Context, t stream.Transfer) error { return f(ctx, t) }

// NoopInitiator accepts every transfer without moving anything. It stands in
// for the real transfer service in tests and local development.
type NoopInitiator struct{}

func (NoopInitiator) Initiate(context.Context, stream.Transfer) error { return nil }

// FeeLedger is the slice of the fee service the lifecycle operations need:
// computing the platform cut of a payout and moving it in and out of the
// per-asset accumulator.
type FeeLedger interface {
	Amount(payout int64) int64
	Credit(ctx context.Context, asset string, amount int64) error
	Debit(ctx context.Context, asset string, amount int64) error
}

// StorageLedger charges and releases prepaid storage allowance. Token streams
// occupy registrar storage for their lifetime; native streams do not.
type StorageLedger interface {
	Charge(ctx context.Context, owner string, units int64) error
	Release(ctx context.Context, owner string, units int64) error
}
