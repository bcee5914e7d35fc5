package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/NStream-Network/stream_layer/internal/app/domain/account"
	"github.com/NStream-Network/stream_layer/internal/app/domain/fee"
	"github.com/NStream-Network/stream_layer/internal/app/domain/stream"
	"github.com/NStream-Network/stream_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu           sync.RWMutex
	nextStreamID int64
	nextJournal  int64
	accounts     map[string]account.Account
	streams      map[string]stream.Stream
	transfers    map[string]stream.Transfer
	byStream     map[string][]string
	fees         map[string]fee.Balance
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.StreamStore = (*Store)(nil)
var _ storage.TransferStore = (*Store)(nil)
var _ storage.FeeStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextStreamID: 1,
		nextJournal:  1,
		accounts:     make(map[string]account.Account),
		streams:      make(map[string]stream.Stream),
		transfers:    make(map[string]stream.Transfer),
		byStream:     make(map[string][]string),
		fees:         make(map[string]fee.Balance),
	}
}

// AccountStore implementation -------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct.Owner = strings.TrimSpace(acct.Owner)
	if acct.Owner == "" {
		return account.Account{}, fmt.Errorf("account owner is required")
	}
	if _, exists := s.accounts[acct.Owner]; exists {
		return account.Account{}, fmt.Errorf("account %s already exists", acct.Owner)
	}

	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	s.accounts[acct.Owner] = acct
	return acct, nil
}

func (s *Store) UpdateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.accounts[acct.Owner]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s not found", acct.Owner)
	}

	acct.CreatedAt = original.CreatedAt
	acct.UpdatedAt = time.Now().UTC()

	s.accounts[acct.Owner] = acct
	return acct, nil
}

func (s *Store) GetAccount(_ context.Context, owner string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[owner]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s not found", owner)
	}
	return acct, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]account.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		result = append(result, acct)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Owner < result[j].Owner })
	return result, nil
}

// StreamStore implementation --------------------------------------------------

func (s *Store) CreateStream(_ context.Context, st stream.Stream) (stream.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.ID != "" {
		return stream.Stream{}, fmt.Errorf("stream ids are store-assigned")
	}
	st.ID = strconv.FormatInt(s.nextStreamID, 10)
	s.nextStreamID++

	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now

	s.streams[st.ID] = st
	return st, nil
}

func (s *Store) UpdateStream(_ context.Context, st stream.Stream) (stream.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.streams[st.ID]
	if !ok {
		return stream.Stream{}, fmt.Errorf("stream %s not found", st.ID)
	}

	st.CreatedAt = original.CreatedAt
	st.UpdatedAt = time.Now().UTC()

	s.streams[st.ID] = st
	return st, nil
}

func (s *Store) GetStream(_ context.Context, id string) (stream.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streams[id]
	if !ok {
		return stream.Stream{}, fmt.Errorf("stream %s not found", id)
	}
	return st, nil
}

func (s *Store) ListStreams(_ context.Context, party string, offset, limit int) ([]stream.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]stream.Stream, 0, len(s.streams))
	for _, st := range s.streams {
		if party == "" || st.Sender == party || st.Receiver == party {
			all = append(all, st)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		a, _ := strconv.ParseInt(all[i].ID, 10, 64)
		b, _ := strconv.ParseInt(all[j].ID, 10, 64)
		return a < b
	})

	if offset >= len(all) {
		return []stream.Stream{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *Store) DeleteStream(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.streams[id]; !ok {
		return fmt.Errorf("stream %s not found", id)
	}
	delete(s.streams, id)
	return nil
}

// TransferStore implementation ------------------------------------------------

func (s *Store) CreateTransfer(_ context.Context, t stream.Transfer) (stream.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = fmt.Sprintf("tr-%d", s.nextJournal)
		s.nextJournal++
	} else if _, exists := s.transfers[t.ID]; exists {
		return stream.Transfer{}, fmt.Errorf("transfer %s already exists", t.ID)
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	s.transfers[t.ID] = t
	s.byStream[t.StreamID] = append(s.byStream[t.StreamID], t.ID)
	return t, nil
}

func (s *Store) UpdateTransfer(_ context.Context, t stream.Transfer) (stream.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.transfers[t.ID]
	if !ok {
		return stream.Transfer{}, fmt.Errorf("transfer %s not found", t.ID)
	}

	t.CreatedAt = original.CreatedAt
	t.UpdatedAt = time.Now().UTC()

	s.transfers[t.ID] = t
	return t, nil
}

func (s *Store) GetTransfer(_ context.Context, id string) (stream.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transfers[id]
	if !ok {
		return stream.Transfer{}, fmt.Errorf("transfer %s not found", id)
	}
	return t, nil
}

func (s *Store) ListTransfers(_ context.Context, streamID string) ([]stream.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byStream[streamID]
	result := make([]stream.Transfer, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.transfers[id])
	}
	return result, nil
}

func (s *Store) ListPendingTransfers(_ context.Context) ([]stream.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]stream.Transfer, 0)
	for _, t := range s.transfers {
		if t.Status == stream.StatusPending {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// FeeStore implementation -----------------------------------------------------

func (s *Store) CreditFee(_ context.Context, asset string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("fee credit cannot be negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bal := s.fees[asset]
	bal.Asset = asset
	bal.Amount += amount
	bal.UpdatedAt = time.Now().UTC()
	s.fees[asset] = bal
	return bal.Amount, nil
}

func (s *Store) DebitFee(_ context.Context, asset string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("fee debit cannot be negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bal := s.fees[asset]
	if bal.Amount < amount {
		return bal.Amount, fmt.Errorf("fee balance for %s is %d, cannot debit %d", asset, bal.Amount, amount)
	}
	bal.Asset = asset
	bal.Amount -= amount
	bal.UpdatedAt = time.Now().UTC()
	s.fees[asset] = bal
	return bal.Amount, nil
}

func (s *Store) GetFeeBalance(_ context.Context, asset string) (fee.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bal, ok := s.fees[asset]
	if !ok {
		return fee.Balance{Asset: asset}, nil
	}
	return bal, nil
}

func (s *Store) ListFeeBalances(_ context.Context) ([]fee.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]fee.Balance, 0, len(s.fees))
	for _, bal := range s.fees {
		result = append(result, bal)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Asset < result[j].Asset })
	return result, nil
}
