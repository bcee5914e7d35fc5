package streams

import (
	"context"
	"fmt"
	"time"

	"github.com/NStream-Network/stream_layer/internal/app/domain/stream"
	"github.com/NStream-Network/stream_layer/internal/app/metrics"
)

// The two-phase protocol. Withdraw, Cancel and Claim mutate the stream
// optimistically, journal the exact reverse mutation, then initiate the
// external transfer. Native transfers complete inside the call; token
// transfers leave the stream locked until ResolveTransfer commits or
// compensates. A locked stream rejects every mutating operation, which is
// the whole double-spend defence: no second payout can be computed from a
// balance that is already tentatively spent.

// Withdraw pays out accrued funds. The receiver draws what the rate earned
// them so far; the sender, only after the stream has ended, recovers the
// surplus the receiver can never claim.
func (s *Service) Withdraw(ctx context.Context, caller, id string) (stream.Stream, stream.Transfer, error) {
	st, err := s.streams.GetStream(ctx, id)
	if err != nil {
		return stream.Stream{}, stream.Transfer{}, err
	}
	if st.Locked {
		return stream.Stream{}, stream.Transfer{}, stream.ErrStreamLocked
	}
	if st.IsCancelled {
		return stream.Stream{}, stream.Transfer{}, stream.ErrAlreadyCancelled
	}

	now := s.clock.Now()
	if !st.Started(now) {
		return stream.Stream{}, stream.Transfer{}, stream.ErrNotStarted
	}
	if st.Balance <= 0 {
		return stream.Stream{}, stream.Transfer{}, stream.ErrNothingDue
	}

	switch caller {
	case st.Sender:
		return s.withdrawSender(ctx, st, now)
	case st.Receiver:
		return s.withdrawReceiver(ctx, st, now)
	default:
		return stream.Stream{}, stream.Transfer{}, stream.ErrNotAuthorized
	}
}

func (s *Service) withdrawSender(ctx context.Context, st stream.Stream, now int64) (stream.Stream, stream.Transfer, error) {
	if !st.Ended(now) {
		return stream.Stream{}, stream.Transfer{}, stream.ErrNotEnded
	}

	surplus := stream.SenderSurplus(st)
	if surplus <= 0 {
		return stream.Stream{}, stream.Transfer{}, stream.ErrAlreadyWithdrawn
	}

	t := stream.Transfer{
		Kind:               stream.TransferWithdrawSender,
		Recipient:          st.Sender,
		Amount:             surplus,
		RevertBalance:      surplus,
		RevertWithdrawTime: st.WithdrawTime,
	}
	st.Balance -= surplus
	return s.execute(ctx, st, t)
}

func (s *Service) withdrawReceiver(ctx context.Context, st stream.Stream, now int64) (stream.Stream, stream.Transfer, error) {
	due, boundary := stream.ReceiverDue(st, now)
	if due <= 0 {
		return stream.Stream{}, stream.Transfer{}, stream.ErrNothingDue
	}
	if due > st.Balance {
		return stream.Stream{}, stream.Transfer{}, fmt.Errorf("%w: stream %s owes %d with balance %d", stream.ErrInvariantViolation, st.ID, due, st.Balance)
	}

	fee := s.feeFor(due)
	t := stream.Transfer{
		Kind:               stream.TransferWithdrawReceiver,
		Recipient:          st.Receiver,
		Amount:             due - fee,
		FeeAmount:          fee,
		RevertBalance:      due,
		RevertWithdrawTime: st.WithdrawTime,
		RevertWithdrawn:    due,
	}
	st.Balance -= due
	st.WithdrawTime = boundary
	st.WithdrawnAmount += due
	return s.execute(ctx, st, t)
}

// Cancel ends a stream before its end time. The receiver is paid everything
// accrued so far, minus the platform fee; the remaining balance stays with
// the ledger and becomes claimable through Claim, so a stuck receiver payout
// can never block the sender's refund. Cancelling before the start refunds
// everything with zero receiver payout.
func (s *Service) Cancel(ctx context.Context, caller, id string) (stream.Stream, stream.Transfer, error) {
	st, err := s.streams.GetStream(ctx, id)
	if err != nil {
		return stream.Stream{}, stream.Transfer{}, err
	}
	if st.Sender != caller {
		return stream.Stream{}, stream.Transfer{}, stream.ErrNotAuthorized
	}
	if !st.CanCancel {
		return stream.Stream{}, stream.Transfer{}, stream.ErrCannotCancel
	}
	if st.Locked {
		return stream.Stream{}, stream.Transfer{}, stream.ErrStreamLocked
	}
	if st.IsCancelled {
		return stream.Stream{}, stream.Transfer{}, stream.ErrAlreadyCancelled
	}

	now := s.clock.Now()
	if st.Ended(now) {
		return stream.Stream{}, stream.Transfer{}, stream.ErrEnded
	}

	due, boundary := stream.ReceiverDue(st, now)
	if due > st.Balance {
		return stream.Stream{}, stream.Transfer{}, fmt.Errorf("%w: stream %s owes %d with balance %d", stream.ErrInvariantViolation, st.ID, due, st.Balance)
	}

	prevWithdrawTime := st.WithdrawTime
	st.IsCancelled = true

	if due == 0 {
		st, err = s.streams.UpdateStream(ctx, st)
		if err != nil {
			return stream.Stream{}, stream.Transfer{}, err
		}
		s.log.WithField("stream_id", st.ID).Info("stream cancelled, nothing accrued")
		return st, stream.Transfer{}, nil
	}

	fee := s.feeFor(due)
	t := stream.Transfer{
		Kind:               stream.TransferCancelPayout,
		Recipient:          st.Receiver,
		Amount:             due - fee,
		FeeAmount:          fee,
		RevertBalance:      due,
		RevertWithdrawTime: prevWithdrawTime,
		RevertWithdrawn:    due,
		RevertCancelled:    true,
	}
	st.Balance -= due
	st.WithdrawTime = boundary
	st.WithdrawnAmount += due
	return s.execute(ctx, st, t)
}

// Claim refunds the remaining balance of a cancelled stream to the sender.
// No fee is withheld from sender refunds.
func (s *Service) Claim(ctx context.Context, caller, id string) (stream.Stream, stream.Transfer, error) {
	st, err := s.streams.GetStream(ctx, id)
	if err != nil {
		return stream.Stream{}, stream.Transfer{}, err
	}
	if st.Sender != caller {
		return stream.Stream{}, stream.Transfer{}, stream.ErrNotAuthorized
	}
	if st.Locked {
		return stream.Stream{}, stream.Transfer{}, stream.ErrStreamLocked
	}
	if !st.IsCancelled {
		return stream.Stream{}, stream.Transfer{}, stream.ErrNotCancelled
	}
	if st.Balance <= 0 {
		return stream.Stream{}, stream.Transfer{}, stream.ErrNothingDue
	}

	amount := st.Balance
	t := stream.Transfer{
		Kind:               stream.TransferClaimRefund,
		Recipient:          st.Sender,
		Amount:             amount,
		RevertBalance:      amount,
		RevertWithdrawTime: st.WithdrawTime,
	}
	st.Balance = 0
	return s.execute(ctx, st, t)
}

// execute runs phases one and two on an already-mutated stream. Native
// transfers settle inside the call and the stream is never locked; token
// transfers persist the locked stream and a pending journal entry, then
// submit the transfer. A submission failure compensates immediately.
func (s *Service) execute(ctx context.Context, st stream.Stream, t stream.Transfer) (stream.Stream, stream.Transfer, error) {
	t.StreamID = st.ID
	t.Asset = st.Asset

	if st.Asset.IsNative() {
		t.Status = stream.StatusCompleted
		t.ResolvedAt = time.Now().UTC()
		if err := s.initiator.Initiate(ctx, t); err != nil {
			return stream.Stream{}, stream.Transfer{}, fmt.Errorf("native transfer: %w", err)
		}

		st, err := s.streams.UpdateStream(ctx, st)
		if err != nil {
			return stream.Stream{}, stream.Transfer{}, err
		}
		if err := s.creditFee(ctx, t); err != nil {
			return stream.Stream{}, stream.Transfer{}, err
		}
		t, err = s.transfers.CreateTransfer(ctx, t)
		if err != nil {
			return stream.Stream{}, stream.Transfer{}, err
		}

		s.log.WithField("stream_id", st.ID).
			WithField("kind", string(t.Kind)).
			WithField("amount", t.Amount).
			Info("native transfer settled")
		return st, t, nil
	}

	st.Locked = true
	t.Status = stream.StatusPending

	st, err := s.streams.UpdateStream(ctx, st)
	if err != nil {
		return stream.Stream{}, stream.Transfer{}, err
	}
	if err := s.creditFee(ctx, t); err != nil {
		return stream.Stream{}, stream.Transfer{}, err
	}
	t, err = s.transfers.CreateTransfer(ctx, t)
	if err != nil {
		return stream.Stream{}, stream.Transfer{}, err
	}
	metrics.RecordTransferInitiated(string(t.Kind))

	if err := s.initiator.Initiate(ctx, t); err != nil {
		if st, t, cerr := s.settle(ctx, st, t, false, "transfer submission failed: "+err.Error()); cerr == nil {
			return st, t, fmt.Errorf("initiate transfer: %w", err)
		}
		return stream.Stream{}, stream.Transfer{}, fmt.Errorf("initiate transfer: %w", err)
	}

	s.log.WithField("stream_id", st.ID).
		WithField("transfer_id", t.ID).
		WithField("kind", string(t.Kind)).
		WithField("amount", t.Amount).
		Info("transfer initiated, stream locked")
	return st, t, nil
}

// ResolveTransfer is phase three: the eventual verdict on a pending token
// transfer. Success unlocks the stream; failure replays the journalled
// reverse mutation so the stream is bit for bit as if the operation never
// happened.
func (s *Service) ResolveTransfer(ctx context.Context, transferID string, success bool, reason string) (stream.Stream, stream.Transfer, error) {
	t, err := s.transfers.GetTransfer(ctx, transferID)
	if err != nil {
		return stream.Stream{}, stream.Transfer{}, err
	}
	if t.Status != stream.StatusPending {
		return stream.Stream{}, stream.Transfer{}, fmt.Errorf("transfer %s already resolved as %s", t.ID, t.Status)
	}

	st, err := s.streams.GetStream(ctx, t.StreamID)
	if err != nil {
		return stream.Stream{}, stream.Transfer{}, err
	}
	return s.settle(ctx, st, t, success, reason)
}

// settle applies a verdict to a pending transfer. The compensation runs
// first and the journal entry is flipped last, so a failure part way through
// leaves the transfer pending and the whole verdict retryable.
func (s *Service) settle(ctx context.Context, st stream.Stream, t stream.Transfer, success bool, reason string) (stream.Stream, stream.Transfer, error) {
	st.Locked = false
	if !success {
		st.Balance += t.RevertBalance
		// WithdrawTime only ever rolls back; the lock guarantees nothing
		// advanced it while the transfer was pending.
		if t.RevertWithdrawTime < st.WithdrawTime {
			st.WithdrawTime = t.RevertWithdrawTime
		}
		st.WithdrawnAmount -= t.RevertWithdrawn
		if t.RevertCancelled {
			st.IsCancelled = false
		}
		if t.FeeAmount > 0 && s.fees != nil {
			if err := s.fees.Debit(ctx, string(t.Asset), t.FeeAmount); err != nil {
				return stream.Stream{}, stream.Transfer{}, fmt.Errorf("revert fee credit: %w", err)
			}
		}
	}

	st, err := s.streams.UpdateStream(ctx, st)
	if err != nil {
		return stream.Stream{}, stream.Transfer{}, err
	}

	t.Failure = reason
	t.ResolvedAt = time.Now().UTC()
	if success {
		t.Status = stream.StatusCompleted
	} else {
		t.Status = stream.StatusFailed
	}
	t, err = s.transfers.UpdateTransfer(ctx, t)
	if err != nil {
		return stream.Stream{}, stream.Transfer{}, err
	}
	metrics.RecordTransferSettled(string(t.Kind), success, t.ResolvedAt.Sub(t.CreatedAt))

	if success {
		s.log.WithField("stream_id", st.ID).
			WithField("transfer_id", t.ID).
			Info("transfer confirmed, stream unlocked")
	} else {
		s.log.WithField("stream_id", st.ID).
			WithField("transfer_id", t.ID).
			WithField("reason", reason).
			Warn("transfer failed, stream state rolled back")
	}
	return st, t, nil
}

// ReservedFees sums the fee credits backing still-pending transfers of one
// asset. A failure verdict debits those credits back, so they must stay out
// of the claimable fee balance until the transfer settles.
func (s *Service) ReservedFees(ctx context.Context, asset string) (int64, error) {
	pending, err := s.transfers.ListPendingTransfers(ctx)
	if err != nil {
		return 0, err
	}
	var reserved int64
	for _, t := range pending {
		if string(t.Asset) == asset {
			reserved += t.FeeAmount
		}
	}
	return reserved, nil
}

func (s *Service) feeFor(payout int64) int64 {
	if s.fees == nil {
		return 0
	}
	return s.fees.Amount(payout)
}

func (s *Service) creditFee(ctx context.Context, t stream.Transfer) error {
	if t.FeeAmount <= 0 || s.fees == nil {
		return nil
	}
	return s.fees.Credit(ctx, string(t.Asset), t.FeeAmount)
}
