package storage

import (
	"context"

	"github.com/NStream-Network/stream_layer/internal/app/domain/account"
	"github.com/NStream-Network/stream_layer/internal/app/domain/fee"
	"github.com/NStream-Network/stream_layer/internal/app/domain/stream"
)

// AccountStore persists registered identities and their storage allowance.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	GetAccount(ctx context.Context, owner string) (account.Account, error)
	ListAccounts(ctx context.Context) ([]account.Account, error)
}

// StreamStore persists stream records. CreateStream assigns monotonically
// increasing identifiers.
type StreamStore interface {
	CreateStream(ctx context.Context, s stream.Stream) (stream.Stream, error)
	UpdateStream(ctx context.Context, s stream.Stream) (stream.Stream, error)
	GetStream(ctx context.Context, id string) (stream.Stream, error)
	ListStreams(ctx context.Context, party string, offset, limit int) ([]stream.Stream, error)
	DeleteStream(ctx context.Context, id string) error
}

// TransferStore persists the transfer journal used by the two-phase
// withdraw/cancel/claim protocol.
type TransferStore interface {
	CreateTransfer(ctx context.Context, t stream.Transfer) (stream.Transfer, error)
	UpdateTransfer(ctx context.Context, t stream.Transfer) (stream.Transfer, error)
	GetTransfer(ctx context.Context, id string) (stream.Transfer, error)
	ListTransfers(ctx context.Context, streamID string) ([]stream.Transfer, error)
	ListPendingTransfers(ctx context.Context) ([]stream.Transfer, error)
}

// FeeStore persists per-asset accumulated platform fees. CreditFee and
// DebitFee return the balance after the mutation; DebitFee fails rather
// than drive a balance negative.
type FeeStore interface {
	CreditFee(ctx context.Context, asset string, amount int64) (int64, error)
	DebitFee(ctx context.Context, asset string, amount int64) (int64, error)
	GetFeeBalance(ctx context.Context, asset string) (fee.Balance, error)
	ListFeeBalances(ctx context.Context) ([]fee.Balance, error)
}
