package stream

import "time"

// TransferKind names the lifecycle operation that initiated a transfer.
type TransferKind string

const (
	TransferWithdrawSender   TransferKind = "withdraw_sender"
	TransferWithdrawReceiver TransferKind = "withdraw_receiver"
	TransferCancelPayout     TransferKind = "cancel_payout"
	TransferClaimRefund      TransferKind = "claim_refund"
)

// TransferStatus tracks settlement of an initiated transfer.
type TransferStatus string

const (
	StatusPending   TransferStatus = "pending"
	StatusCompleted TransferStatus = "completed"
	StatusFailed    TransferStatus = "failed"
)

// Transfer is a journal entry for one external value movement. It records
// both the payout and the exact reverse mutation to apply if the movement
// fails, so compensation restores the pre-attempt state bit for bit.
type Transfer struct {
	ID        string
	StreamID  string
	Kind      TransferKind
	Asset     Asset
	Recipient string

	// Amount is the net amount handed to the transfer service. For receiver
	// payouts the stream balance was debited Amount+FeeAmount.
	Amount    int64
	FeeAmount int64

	// Compensation record: applied verbatim when the transfer fails.
	RevertBalance      int64
	RevertWithdrawTime int64
	RevertWithdrawn    int64
	RevertCancelled    bool

	Status  TransferStatus
	Failure string

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt time.Time
}
