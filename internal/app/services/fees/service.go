package fees

import (
	"context"
	"fmt"
	"strings"

	"github.com/NStream-Network/stream_layer/internal/app/domain/fee"
	"github.com/NStream-Network/stream_layer/internal/app/domain/stream"
	"github.com/NStream-Network/stream_layer/internal/app/metrics"
	"github.com/NStream-Network/stream_layer/internal/app/storage"
	"github.com/NStream-Network/stream_layer/pkg/logger"
)

// Payout hands claimed fees to the fee recipient. Claims are contract-global
// rather than per-stream, so no stream lock is involved; a failed payout is
// compensated by crediting the ledger back.
type Payout interface {
	Pay(ctx context.Context, asset, recipient string, amount int64) error
}

// PayoutFunc adapts a function to the Payout interface.
type PayoutFunc func(ctx context.Context, asset, recipient string, amount int64) error

func (f PayoutFunc) Pay(ctx context.Context, asset, recipient string, amount int64) error {
	return f(ctx, asset, recipient, amount)
}

// Reserver reports fee credits backing transfers that have not settled yet.
// A failed transfer debits its fee back, so reserved credits are not
// claimable until the transfer resolves.
type Reserver interface {
	ReservedFees(ctx context.Context, asset string) (int64, error)
}

// Config carries the fee policy.
type Config struct {
	// RateBps is the platform cut of receiver payouts in basis points.
	RateBps int64

	// Recipient is the only identity allowed to claim accumulated fees.
	Recipient string
}

// Service is the platform fee ledger: a per-asset accumulator of the cut
// withheld from receiver payouts, never from sender refunds.
type Service struct {
	store    storage.FeeStore
	cfg      Config
	payout   Payout
	reserver Reserver
	log      *logger.Logger
}

// New constructs a fee service. A nil payout accepts every claim.
func New(store storage.FeeStore, cfg Config, payout Payout, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("fees")
	}
	if cfg.RateBps < 0 {
		cfg.RateBps = 0
	}
	if payout == nil {
		payout = PayoutFunc(func(context.Context, string, string, int64) error { return nil })
	}
	return &Service{store: store, cfg: cfg, payout: payout, log: log}
}

// AttachReserver wires the collaborator that knows which fee credits back
// pending transfers. A nil reserver treats the whole balance as claimable.
func (s *Service) AttachReserver(r Reserver) {
	s.reserver = r
}

// RateBps returns the configured fee rate.
func (s *Service) RateBps() int64 { return s.cfg.RateBps }

// Amount returns the fee withheld from a payout, rounded down.
func (s *Service) Amount(payout int64) int64 {
	return fee.Amount(payout, s.cfg.RateBps)
}

// Credit adds withheld fees to the per-asset accumulator.
func (s *Service) Credit(ctx context.Context, asset string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	balance, err := s.store.CreditFee(ctx, asset, amount)
	if err != nil {
		return err
	}
	metrics.SetFeeBalance(asset, balance)
	return nil
}

// Debit removes fees from the accumulator, used when a failed transfer
// reverts a withheld fee.
func (s *Service) Debit(ctx context.Context, asset string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	balance, err := s.store.DebitFee(ctx, asset, amount)
	if err != nil {
		return err
	}
	metrics.SetFeeBalance(asset, balance)
	return nil
}

// Balance returns the accumulated fees for one asset.
func (s *Service) Balance(ctx context.Context, asset string) (fee.Balance, error) {
	return s.store.GetFeeBalance(ctx, asset)
}

// Balances returns the accumulated fees for every asset.
func (s *Service) Balances(ctx context.Context) ([]fee.Balance, error) {
	return s.store.ListFeeBalances(ctx)
}

// Claim pays accumulated fees for one asset to the configured recipient. The
// ledger is debited first and credited back if the payout fails, so the
// balance never double-pays.
func (s *Service) Claim(ctx context.Context, caller, asset string) (fee.Balance, error) {
	caller = strings.TrimSpace(caller)
	if s.cfg.Recipient == "" || caller != s.cfg.Recipient {
		return fee.Balance{}, stream.ErrNotAuthorized
	}

	bal, err := s.store.GetFeeBalance(ctx, asset)
	if err != nil {
		return fee.Balance{}, err
	}

	amount := bal.Amount
	if s.reserver != nil {
		reserved, err := s.reserver.ReservedFees(ctx, asset)
		if err != nil {
			return fee.Balance{}, fmt.Errorf("reserved fees: %w", err)
		}
		amount -= reserved
	}
	if amount <= 0 {
		return fee.Balance{}, fmt.Errorf("no claimable fees for %s", asset)
	}

	remaining, err := s.store.DebitFee(ctx, asset, amount)
	if err != nil {
		return fee.Balance{}, err
	}
	metrics.SetFeeBalance(asset, remaining)

	if err := s.payout.Pay(ctx, asset, s.cfg.Recipient, amount); err != nil {
		if restored, cerr := s.store.CreditFee(ctx, asset, amount); cerr != nil {
			s.log.WithError(cerr).Errorf("restore fee balance for %s after failed payout", asset)
		} else {
			metrics.SetFeeBalance(asset, restored)
		}
		return fee.Balance{}, fmt.Errorf("fee payout: %w", err)
	}

	s.log.WithField("asset", asset).
		WithField("amount", amount).
		WithField("recipient", s.cfg.Recipient).
		Info("fees claimed")
	return s.store.GetFeeBalance(ctx, asset)
}
