// Package account defines registered ledger participants and their prepaid
// storage allowance.
package account

import "time"

// Account represents a registered identity. StorageDeposit is the prepaid
// allowance in storage units; StorageUsed grows as the identity creates
// streams and shrinks when they are garbage collected.
type Account struct {
	Owner          string
	StorageDeposit int64
	StorageUsed    int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Available returns the unspent storage allowance.
func (a Account) Available() int64 { return a.StorageDeposit - a.StorageUsed }
