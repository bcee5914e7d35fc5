// Package stream defines the payment stream entity and the pure accounting
// rules that govern it. A stream is a time-bounded, rate-based entitlement:
// the receiver accrues Rate units per second between StartTime and EndTime,
// pauses excluded, and the sender can recover whatever never accrued.
package stream

import "time"

// Asset identifies the value being streamed. The native asset moves
// synchronously inside the ledger; any other asset is an external token
// contract reference whose transfers settle asynchronously.
type Asset string

// AssetNative is the ledger's own asset.
const AssetNative Asset = "native"

// IsNative reports whether transfers of the asset settle synchronously.
func (a Asset) IsNative() bool { return a == AssetNative }

// Stream is the central ledger entity. Timestamps are unix seconds; amounts
// are integral units of the stream's asset.
type Stream struct {
	ID       string
	Sender   string
	Receiver string
	Asset    Asset

	// Rate is the amount accrued to the receiver per second.
	Rate int64

	// Deposited is the original deposit; Balance is what the ledger still
	// holds for this stream. Balance never exceeds Deposited and never goes
	// negative.
	Deposited int64
	Balance   int64

	// WithdrawnAmount is the cumulative amount credited to the receiver.
	WithdrawnAmount int64

	StartTime int64
	EndTime   int64

	// WithdrawTime is the boundary up to which the receiver has been
	// credited. It starts at StartTime and never passes EndTime by more
	// than bookkeeping slack after the stream is exhausted.
	WithdrawTime int64

	// PausedTime is the timestamp of the current pause, zero when running.
	PausedTime int64

	IsPaused    bool
	IsCancelled bool

	// Locked is the per-stream mutex: set while an external transfer
	// initiated by this stream is unresolved. Every mutating operation
	// rejects a locked stream.
	Locked bool

	CanPause  bool
	CanCancel bool
	CanUpdate bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Started reports whether the stream has started at now.
func (s Stream) Started(now int64) bool { return now > s.StartTime }

// Ended reports whether the stream has ended at now.
func (s Stream) Ended(now int64) bool { return now > s.EndTime }
