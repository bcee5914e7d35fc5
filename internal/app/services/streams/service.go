package streams

import (
	"context"
	"fmt"
	"strings"

	"github.com/NStream-Network/stream_layer/internal/app/domain/stream"
	"github.com/NStream-Network/stream_layer/internal/app/metrics"
	"github.com/NStream-Network/stream_layer/internal/app/storage"
	"github.com/NStream-Network/stream_layer/pkg/logger"
)

// DefaultRateCeiling bounds the per-second rate a stream may be created with.
const DefaultRateCeiling int64 = 1_000_000_000_000

// DefaultStorageUnitsPerStream is the registrar storage charged for each
// token stream. Native streams occupy no registrar storage.
const DefaultStorageUnitsPerStream int64 = 256

// Config carries the tunables of the streams service.
type Config struct {
	// RateCeiling is the exclusive upper bound for stream rates.
	RateCeiling int64

	// StorageUnitsPerStream is charged against the sender's storage
	// allowance when a token stream is created and released when the
	// stream is garbage collected.
	StorageUnitsPerStream int64

	// Manager may garbage collect ended streams. Empty disables GC.
	Manager string

	// AssetWhitelist limits which token assets streams may carry. Empty
	// allows every asset. The native asset is always allowed.
	AssetWhitelist []string
}

// Service implements the stream lifecycle: creation with full validation,
// pause and resume bookkeeping, and the two-phase withdraw, cancel and claim
// protocol in withdraw.go.
type Service struct {
	streams   storage.StreamStore
	transfers storage.TransferStore
	fees      FeeLedger
	allowance StorageLedger
	initiator TransferInitiator
	clock     Clock
	cfg       Config
	whitelist map[stream.Asset]bool
	log       *logger.Logger
}

// New constructs a streams service. fees and allowance may be nil, which
// disables fee withholding and storage accounting respectively; a nil
// initiator accepts every transfer.
func New(streams storage.StreamStore, transfers storage.TransferStore, fees FeeLedger, allowance StorageLedger, initiator TransferInitiator, clock Clock, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("streams")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if initiator == nil {
		initiator = NoopInitiator{}
	}
	if cfg.RateCeiling <= 0 {
		cfg.RateCeiling = DefaultRateCeiling
	}
	if cfg.StorageUnitsPerStream <= 0 {
		cfg.StorageUnitsPerStream = DefaultStorageUnitsPerStream
	}
	var whitelist map[stream.Asset]bool
	if len(cfg.AssetWhitelist) > 0 {
		whitelist = make(map[stream.Asset]bool, len(cfg.AssetWhitelist))
		for _, asset := range cfg.AssetWhitelist {
			if trimmed := strings.TrimSpace(asset); trimmed != "" {
				whitelist[stream.Asset(trimmed)] = true
			}
		}
	}
	return &Service{
		streams:   streams,
		transfers: transfers,
		fees:      fees,
		allowance: allowance,
		initiator: initiator,
		clock:     clock,
		cfg:       cfg,
		whitelist: whitelist,
		log:       log,
	}
}

// CreateParams are the caller-supplied inputs for a new stream. The caller
// of Create is always the sender.
type CreateParams struct {
	Receiver  string
	Asset     stream.Asset
	Rate      int64
	StartTime int64
	EndTime   int64
	Deposit   int64
	CanPause  bool
	CanCancel bool
	CanUpdate bool
}

// Create validates the parameters and inserts a new stream holding the full
// deposit. Validation rejects before anything is written; for token streams
// the sender's storage allowance is charged first and released again if the
// insert fails.
func (s *Service) Create(ctx context.Context, caller string, p CreateParams) (stream.Stream, error) {
	caller = strings.TrimSpace(caller)
	p.Receiver = strings.TrimSpace(p.Receiver)
	if caller == "" {
		return stream.Stream{}, fmt.Errorf("sender is required")
	}
	if p.Receiver == "" {
		return stream.Stream{}, fmt.Errorf("receiver is required")
	}
	if p.Receiver == caller {
		return stream.Stream{}, fmt.Errorf("receiver must differ from sender")
	}

	now := s.clock.Now()
	if p.StartTime < now {
		return stream.Stream{}, fmt.Errorf("start time %d is in the past", p.StartTime)
	}
	if p.EndTime < p.StartTime {
		return stream.Stream{}, fmt.Errorf("end time %d precedes start time %d", p.EndTime, p.StartTime)
	}
	if p.Rate <= 0 || p.Rate >= s.cfg.RateCeiling {
		return stream.Stream{}, fmt.Errorf("rate must be positive and below %d", s.cfg.RateCeiling)
	}
	if p.Deposit < 0 {
		return stream.Stream{}, fmt.Errorf("deposit cannot be negative")
	}
	duration := p.EndTime - p.StartTime
	required := p.Rate * duration
	if duration != 0 && required/duration != p.Rate {
		return stream.Stream{}, fmt.Errorf("rate %d over %d seconds overflows the deposit", p.Rate, duration)
	}
	if p.Deposit != required {
		return stream.Stream{}, fmt.Errorf("deposit %d does not match rate * duration = %d", p.Deposit, required)
	}

	asset := p.Asset
	if asset == "" {
		asset = stream.AssetNative
	}
	if !asset.IsNative() && len(s.whitelist) > 0 && !s.whitelist[asset] {
		return stream.Stream{}, fmt.Errorf("asset %s is not whitelisted", asset)
	}

	charged := false
	if !asset.IsNative() && s.allowance != nil {
		if err := s.allowance.Charge(ctx, caller, s.cfg.StorageUnitsPerStream); err != nil {
			return stream.Stream{}, fmt.Errorf("storage allowance: %w", err)
		}
		charged = true
	}

	st := stream.Stream{
		Sender:       caller,
		Receiver:     p.Receiver,
		Asset:        asset,
		Rate:         p.Rate,
		Deposited:    required,
		Balance:      required,
		StartTime:    p.StartTime,
		EndTime:      p.EndTime,
		WithdrawTime: p.StartTime,
		CanPause:     p.CanPause,
		CanCancel:    p.CanCancel,
		CanUpdate:    p.CanUpdate,
	}

	st, err := s.streams.CreateStream(ctx, st)
	if err != nil {
		if charged {
			if rerr := s.allowance.Release(ctx, caller, s.cfg.StorageUnitsPerStream); rerr != nil {
				s.log.WithError(rerr).Warnf("release storage allowance for %s failed", caller)
			}
		}
		return stream.Stream{}, err
	}

	metrics.RecordStreamCreated()
	s.log.WithField("stream_id", st.ID).
		WithField("sender", st.Sender).
		WithField("receiver", st.Receiver).
		WithField("asset", string(st.Asset)).
		Info("stream created")
	return st, nil
}

// UpdateParams are the mutable-before-start fields. Nil leaves a field
// unchanged. Deposit must cover exactly the growth of rate * duration.
type UpdateParams struct {
	Rate      *int64
	StartTime *int64
	EndTime   *int64
	Deposit   int64
}

// Update reshapes a stream that has not started yet. Only the sender may
// update, only when the stream was created updatable, and the new schedule
// may only grow the deposit: shrinking is what Cancel is for.
func (s *Service) Update(ctx context.Context, caller, id string, p UpdateParams) (stream.Stream, error) {
	st, err := s.streams.GetStream(ctx, id)
	if err != nil {
		return stream.Stream{}, err
	}
	if st.Sender != caller {
		return stream.Stream{}, stream.ErrNotAuthorized
	}
	if !st.CanUpdate {
		return stream.Stream{}, stream.ErrCannotUpdate
	}
	if st.Locked {
		return stream.Stream{}, stream.ErrStreamLocked
	}
	if st.IsCancelled {
		return stream.Stream{}, stream.ErrAlreadyCancelled
	}

	now := s.clock.Now()
	if st.Started(now) {
		return stream.Stream{}, stream.ErrAlreadyStarted
	}

	rate, start, end := st.Rate, st.StartTime, st.EndTime
	if p.Rate != nil {
		rate = *p.Rate
	}
	if p.StartTime != nil {
		start = *p.StartTime
	}
	if p.EndTime != nil {
		end = *p.EndTime
	}

	if start < now {
		return stream.Stream{}, fmt.Errorf("start time %d is in the past", start)
	}
	if end < start {
		return stream.Stream{}, fmt.Errorf("end time %d precedes start time %d", end, start)
	}
	if rate <= 0 || rate >= s.cfg.RateCeiling {
		return stream.Stream{}, fmt.Errorf("rate must be positive and below %d", s.cfg.RateCeiling)
	}

	duration := end - start
	required := rate * duration
	if duration != 0 && required/duration != rate {
		return stream.Stream{}, fmt.Errorf("rate %d over %d seconds overflows the deposit", rate, duration)
	}
	if required < st.Deposited {
		return stream.Stream{}, fmt.Errorf("update cannot shrink the deposit from %d to %d", st.Deposited, required)
	}
	shortfall := required - st.Deposited
	if p.Deposit != shortfall {
		return stream.Stream{}, fmt.Errorf("deposit %d does not match required top-up %d", p.Deposit, shortfall)
	}

	st.Rate = rate
	st.StartTime = start
	st.EndTime = end
	st.WithdrawTime = start
	st.Deposited = required
	st.Balance += shortfall

	st, err = s.streams.UpdateStream(ctx, st)
	if err != nil {
		return stream.Stream{}, err
	}
	s.log.WithField("stream_id", st.ID).Info("stream updated")
	return st, nil
}

// Pause freezes accrual. Sender only, running streams only. Pause and Resume
// involve no external transfer, so they complete synchronously.
func (s *Service) Pause(ctx context.Context, caller, id string) (stream.Stream, error) {
	st, err := s.streams.GetStream(ctx, id)
	if err != nil {
		return stream.Stream{}, err
	}
	if st.Sender != caller {
		return stream.Stream{}, stream.ErrNotAuthorized
	}
	if !st.CanPause {
		return stream.Stream{}, stream.ErrCannotPause
	}
	if st.Locked {
		return stream.Stream{}, stream.ErrStreamLocked
	}
	if st.IsCancelled {
		return stream.Stream{}, stream.ErrAlreadyCancelled
	}
	if st.IsPaused {
		return stream.Stream{}, stream.ErrAlreadyPaused
	}

	now := s.clock.Now()
	if !st.Started(now) {
		return stream.Stream{}, stream.ErrNotStarted
	}
	// strictly before the end: pausing at the end boundary freezes nothing
	if now >= st.EndTime {
		return stream.Stream{}, stream.ErrEnded
	}

	st.IsPaused = true
	st.PausedTime = now

	st, err = s.streams.UpdateStream(ctx, st)
	if err != nil {
		return stream.Stream{}, err
	}
	s.log.WithField("stream_id", st.ID).WithField("paused_at", now).Info("stream paused")
	return st, nil
}

// Resume advances the receiver's credited boundary past the paused interval
// so paused time never accrues, then unfreezes the stream.
func (s *Service) Resume(ctx context.Context, caller, id string) (stream.Stream, error) {
	st, err := s.streams.GetStream(ctx, id)
	if err != nil {
		return stream.Stream{}, err
	}
	if st.Sender != caller {
		return stream.Stream{}, stream.ErrNotAuthorized
	}
	if st.Locked {
		return stream.Stream{}, stream.ErrStreamLocked
	}
	if st.IsCancelled {
		return stream.Stream{}, stream.ErrAlreadyCancelled
	}
	if !st.IsPaused {
		return stream.Stream{}, stream.ErrNotPaused
	}

	now := s.clock.Now()
	st.WithdrawTime += stream.ResumeCredit(st, now)
	st.IsPaused = false
	st.PausedTime = 0

	st, err = s.streams.UpdateStream(ctx, st)
	if err != nil {
		return stream.Stream{}, err
	}
	s.log.WithField("stream_id", st.ID).WithField("withdraw_time", st.WithdrawTime).Info("stream resumed")
	return st, nil
}

// Get returns a stream by id. Reads are never blocked by the lock.
func (s *Service) Get(ctx context.Context, id string) (stream.Stream, error) {
	return s.streams.GetStream(ctx, id)
}

// List returns streams where party is sender or receiver; an empty party
// returns all streams.
func (s *Service) List(ctx context.Context, party string, offset, limit int) ([]stream.Stream, error) {
	return s.streams.ListStreams(ctx, party, offset, limit)
}

// ListTransfers returns the transfer journal of one stream.
func (s *Service) ListTransfers(ctx context.Context, streamID string) ([]stream.Transfer, error) {
	return s.transfers.ListTransfers(ctx, streamID)
}

// CollectEnded deletes streams that have ended with nothing left to pay out,
// releasing the registrar storage token streams occupied. Manager only.
func (s *Service) CollectEnded(ctx context.Context, caller string) (int, error) {
	if s.cfg.Manager == "" || caller != s.cfg.Manager {
		return 0, stream.ErrNotAuthorized
	}

	now := s.clock.Now()
	all, err := s.streams.ListStreams(ctx, "", 0, 0)
	if err != nil {
		return 0, err
	}

	collected := 0
	for _, st := range all {
		if st.Locked || st.Balance != 0 || !st.Ended(now) {
			continue
		}
		if err := s.streams.DeleteStream(ctx, st.ID); err != nil {
			s.log.WithError(err).Warnf("collect stream %s failed", st.ID)
			continue
		}
		if !st.Asset.IsNative() && s.allowance != nil {
			if err := s.allowance.Release(ctx, st.Sender, s.cfg.StorageUnitsPerStream); err != nil {
				s.log.WithError(err).Warnf("release storage allowance for %s failed", st.Sender)
			}
		}
		collected++
	}

	if collected > 0 {
		s.log.WithField("collected", collected).Info("ended streams collected")
	}
	return collected, nil
}
