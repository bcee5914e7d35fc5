package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/NStream-Network/stream_layer/internal/app/domain/account"
	"github.com/NStream-Network/stream_layer/internal/app/storage"
	"github.com/NStream-Network/stream_layer/pkg/logger"
)

// Service manages registered identities and their prepaid storage allowance.
// Token streams charge allowance on creation and release it when the stream
// is garbage collected.
type Service struct {
	store storage.AccountStore
	log   *logger.Logger
}

// New constructs an accounts service.
func New(store storage.AccountStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	return &Service{store: store, log: log}
}

// Register creates the identity if needed and adds deposit to its storage
// allowance. Registering an existing identity is a top-up, not an error.
func (s *Service) Register(ctx context.Context, owner string, deposit int64) (account.Account, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return account.Account{}, fmt.Errorf("owner is required")
	}
	if deposit < 0 {
		return account.Account{}, fmt.Errorf("deposit cannot be negative")
	}

	acct, err := s.store.GetAccount(ctx, owner)
	if err != nil {
		acct, err = s.store.CreateAccount(ctx, account.Account{Owner: owner, StorageDeposit: deposit})
		if err != nil {
			return account.Account{}, err
		}
		s.log.WithField("owner", owner).WithField("deposit", deposit).Info("account registered")
		return acct, nil
	}

	if deposit == 0 {
		return acct, nil
	}
	acct.StorageDeposit += deposit
	acct, err = s.store.UpdateAccount(ctx, acct)
	if err != nil {
		return account.Account{}, err
	}
	s.log.WithField("owner", owner).WithField("deposit", deposit).Info("storage deposit topped up")
	return acct, nil
}

// Charge consumes units of the owner's storage allowance, failing without
// mutation when the allowance does not cover them.
func (s *Service) Charge(ctx context.Context, owner string, units int64) error {
	acct, err := s.store.GetAccount(ctx, owner)
	if err != nil {
		return fmt.Errorf("%s is not registered", owner)
	}
	if acct.Available() < units {
		return fmt.Errorf("%s has %d storage units available, %d required", owner, acct.Available(), units)
	}
	acct.StorageUsed += units
	_, err = s.store.UpdateAccount(ctx, acct)
	return err
}

// Release returns units of storage allowance to the owner.
func (s *Service) Release(ctx context.Context, owner string, units int64) error {
	acct, err := s.store.GetAccount(ctx, owner)
	if err != nil {
		return err
	}
	acct.StorageUsed -= units
	if acct.StorageUsed < 0 {
		acct.StorageUsed = 0
	}
	_, err = s.store.UpdateAccount(ctx, acct)
	return err
}

// Get returns a registered identity.
func (s *Service) Get(ctx context.Context, owner string) (account.Account, error) {
	return s.store.GetAccount(ctx, owner)
}

// List returns all registered identities.
func (s *Service) List(ctx context.Context) ([]account.Account, error) {
	return s.store.ListAccounts(ctx)
}
