package streams

import (
	"context"
	"errors"
	"testing"

	"github.com/NStream-Network/stream_layer/internal/app/domain/stream"
	"github.com/NStream-Network/stream_layer/internal/app/services/accounts"
	"github.com/NStream-Network/stream_layer/internal/app/services/fees"
	"github.com/NStream-Network/stream_layer/internal/app/storage/memory"
)

type fakeClock struct{ now int64 }

func (c *fakeClock) Now() int64 { return c.now }

type fixture struct {
	store *memory.Store
	clock *fakeClock
	fees  *fees.Service
	accts *accounts.Service
	svc   *Service
}

func newFixture(t *testing.T, initiator TransferInitiator) *fixture {
	t.Helper()
	store := memory.New()
	clock := &fakeClock{}
	feeSvc := fees.New(store, fees.Config{RateBps: 25, Recipient: "platform"}, nil, nil)
	acctSvc := accounts.New(store, nil)
	svc := New(store, store, feeSvc, acctSvc, initiator, clock, Config{Manager: "manager"}, nil)
	feeSvc.AttachReserver(svc)
	return &fixture{store: store, clock: clock, fees: feeSvc, accts: acctSvc, svc: svc}
}

func (f *fixture) mustCreate(t *testing.T, p CreateParams) stream.Stream {
	t.Helper()
	st, err := f.svc.Create(context.Background(), "alice", p)
	if err != nil {
		t.Fatalf("create stream: %v", err)
	}
	return st
}

func nativeParams() CreateParams {
	return CreateParams{
		Receiver:  "bob",
		Rate:      1,
		StartTime: 100,
		EndTime:   110,
		Deposit:   10,
		CanPause:  true,
		CanCancel: true,
		CanUpdate: true,
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, nil)
	f.clock.now = 100
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateParams)
	}{
		{"same sender and receiver", func(p *CreateParams) { p.Receiver = "alice" }},
		{"start in the past", func(p *CreateParams) { p.StartTime = 99 }},
		{"end before start", func(p *CreateParams) { p.EndTime = 99 }},
		{"zero rate", func(p *CreateParams) { p.Rate = 0; p.Deposit = 0 }},
		{"rate at ceiling", func(p *CreateParams) { p.Rate = DefaultRateCeiling }},
		{"deposit mismatch", func(p *CreateParams) { p.Deposit = 9 }},
		{"negative deposit", func(p *CreateParams) { p.Deposit = -10 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := nativeParams()
			tc.mutate(&p)
			if _, err := f.svc.Create(ctx, "alice", p); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	streams, err := f.svc.List(ctx, "", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(streams) != 0 {
		t.Fatalf("failed creations must not write streams, found %d", len(streams))
	}
}

func TestCreateRejectsOverflowingDeposit(t *testing.T) {
	f := newFixture(t, nil)
	f.clock.now = 0
	ctx := context.Background()

	p := CreateParams{
		Receiver:  "bob",
		Rate:      3_000_000_000,
		StartTime: 0,
		EndTime:   4_000_000_000,
	}
	// rate * duration wraps int64; a deposit matching the wrapped product
	// must not mint a negative-balance stream
	p.Deposit = p.Rate * (p.EndTime - p.StartTime)
	if p.Deposit >= 0 {
		t.Fatalf("expected wrapped product, got %d", p.Deposit)
	}
	if _, err := f.svc.Create(ctx, "alice", p); err == nil {
		t.Fatalf("overflowing deposit must be rejected")
	}

	streams, err := f.svc.List(ctx, "", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(streams) != 0 {
		t.Fatalf("rejected creation must not write streams, found %d", len(streams))
	}
}

func TestUpdateRejectsOverflowingDeposit(t *testing.T) {
	f := newFixture(t, nil)
	f.clock.now = 100
	st := f.mustCreate(t, nativeParams())

	rate := int64(3_000_000_000)
	end := int64(4_000_000_000)
	if _, err := f.svc.Update(context.Background(), "alice", st.ID, UpdateParams{Rate: &rate, EndTime: &end, Deposit: 0}); err == nil {
		t.Fatalf("overflowing update must be rejected")
	}

	unchanged, err := f.svc.Get(context.Background(), st.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if unchanged.Rate != 1 || unchanged.EndTime != 110 || unchanged.Balance != 10 {
		t.Fatalf("rejected update mutated the stream: %+v", unchanged)
	}
}

func TestCreateInitialState(t *testing.T) {
	f := newFixture(t, nil)
	f.clock.now = 100

	st := f.mustCreate(t, nativeParams())
	if st.ID == "" {
		t.Fatalf("stream id not assigned")
	}
	if st.Balance != 10 || st.Deposited != 10 {
		t.Fatalf("unexpected balances: %+v", st)
	}
	if st.WithdrawTime != st.StartTime {
		t.Fatalf("withdraw time should start at start time: %d", st.WithdrawTime)
	}
	if st.IsPaused || st.IsCancelled || st.Locked {
		t.Fatalf("new stream carries state flags: %+v", st)
	}
	if st.Asset != stream.AssetNative {
		t.Fatalf("empty asset should default to native: %s", st.Asset)
	}
}

func TestCreateTokenStreamChargesStorage(t *testing.T) {
	f := newFixture(t, nil)
	f.clock.now = 100
	ctx := context.Background()

	p := nativeParams()
	p.Asset = "token.usdc"

	if _, err := f.svc.Create(ctx, "alice", p); err == nil {
		t.Fatalf("unregistered sender should not create token streams")
	}

	if _, err := f.accts.Register(ctx, "alice", DefaultStorageUnitsPerStream); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.svc.Create(ctx, "alice", p); err != nil {
		t.Fatalf("create token stream: %v", err)
	}

	acct, err := f.accts.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.StorageUsed != DefaultStorageUnitsPerStream {
		t.Fatalf("storage not charged: %d", acct.StorageUsed)
	}

	// allowance exhausted, a second stream must fail
	if _, err := f.svc.Create(ctx, "alice", p); err == nil {
		t.Fatalf("expected storage allowance failure")
	}
}

func TestCreateEnforcesAssetWhitelist(t *testing.T) {
	store := memory.New()
	clock := &fakeClock{now: 100}
	acctSvc := accounts.New(store, nil)
	svc := New(store, store, nil, acctSvc, nil, clock, Config{AssetWhitelist: []string{"token.usdc"}}, nil)
	ctx := context.Background()

	if _, err := acctSvc.Register(ctx, "alice", 2*DefaultStorageUnitsPerStream); err != nil {
		t.Fatalf("register: %v", err)
	}

	p := nativeParams()
	p.Asset = "token.dai"
	if _, err := svc.Create(ctx, "alice", p); err == nil {
		t.Fatalf("non-whitelisted asset must be rejected")
	}

	p.Asset = "token.usdc"
	if _, err := svc.Create(ctx, "alice", p); err != nil {
		t.Fatalf("whitelisted asset: %v", err)
	}

	// the native asset bypasses the whitelist
	if _, err := svc.Create(ctx, "alice", nativeParams()); err != nil {
		t.Fatalf("native asset: %v", err)
	}
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t, nil)
	f.clock.now = 100
	ctx := context.Background()

	st := f.mustCreate(t, nativeParams())

	f.clock.now = 100
	if _, err := f.svc.Pause(ctx, "alice", st.ID); !errors.Is(err, stream.ErrNotStarted) {
		t.Fatalf("pause before start: %v", err)
	}

	f.clock.now = 104
	if _, err := f.svc.Pause(ctx, "bob", st.ID); !errors.Is(err, stream.ErrNotAuthorized) {
		t.Fatalf("receiver pause: %v", err)
	}
	paused, err := f.svc.Pause(ctx, "alice", st.ID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !paused.IsPaused || paused.PausedTime != 104 {
		t.Fatalf("pause not recorded: %+v", paused)
	}
	if _, err := f.svc.Pause(ctx, "alice", st.ID); !errors.Is(err, stream.ErrAlreadyPaused) {
		t.Fatalf("double pause: %v", err)
	}

	f.clock.now = 106
	resumed, err := f.svc.Resume(ctx, "alice", st.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.IsPaused || resumed.PausedTime != 0 {
		t.Fatalf("resume did not clear pause: %+v", resumed)
	}
	if resumed.WithdrawTime != 102 {
		t.Fatalf("withdraw time should advance by the paused interval: %d", resumed.WithdrawTime)
	}
	if _, err := f.svc.Resume(ctx, "alice", st.ID); !errors.Is(err, stream.ErrNotPaused) {
		t.Fatalf("resume running stream: %v", err)
	}
}

func TestPauseAtEndBoundary(t *testing.T) {
	f := newFixture(t, nil)
	f.clock.now = 100
	st := f.mustCreate(t, nativeParams())

	f.clock.now = 110
	if _, err := f.svc.Pause(context.Background(), "alice", st.ID); !errors.Is(err, stream.ErrEnded) {
		t.Fatalf("pause at the end boundary: %v", err)
	}
}

func TestUpdateBeforeStart(t *testing.T) {
	f := newFixture(t, nil)
	f.clock.now = 100
	ctx := context.Background()

	st := f.mustCreate(t, nativeParams())

	newEnd := int64(120)
	if _, err := f.svc.Update(ctx, "bob", st.ID, UpdateParams{EndTime: &newEnd, Deposit: 10}); !errors.Is(err, stream.ErrNotAuthorized) {
		t.Fatalf("receiver update: %v", err)
	}
	if _, err := f.svc.Update(ctx, "alice", st.ID, UpdateParams{EndTime: &newEnd, Deposit: 5}); err == nil {
		t.Fatalf("expected top-up mismatch error")
	}

	updated, err := f.svc.Update(ctx, "alice", st.ID, UpdateParams{EndTime: &newEnd, Deposit: 10})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.EndTime != 120 || updated.Deposited != 20 || updated.Balance != 20 {
		t.Fatalf("update not applied: %+v", updated)
	}

	f.clock.now = 101
	if _, err := f.svc.Update(ctx, "alice", st.ID, UpdateParams{EndTime: &newEnd, Deposit: 0}); !errors.Is(err, stream.ErrAlreadyStarted) {
		t.Fatalf("update after start: %v", err)
	}
}

func TestUpdateRequiresCapability(t *testing.T) {
	f := newFixture(t, nil)
	f.clock.now = 100

	p := nativeParams()
	p.CanUpdate = false
	st := f.mustCreate(t, p)

	rate := int64(2)
	if _, err := f.svc.Update(context.Background(), "alice", st.ID, UpdateParams{Rate: &rate, Deposit: 10}); !errors.Is(err, stream.ErrCannotUpdate) {
		t.Fatalf("expected capability error, got %v", err)
	}
}

func TestCollectEnded(t *testing.T) {
	f := newFixture(t, nil)
	f.clock.now = 100
	ctx := context.Background()

	st := f.mustCreate(t, nativeParams())

	// drain the stream: receiver takes everything after the end
	f.clock.now = 111
	if _, _, err := f.svc.Withdraw(ctx, "bob", st.ID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if _, err := f.svc.CollectEnded(ctx, "alice"); !errors.Is(err, stream.ErrNotAuthorized) {
		t.Fatalf("non-manager collect: %v", err)
	}

	collected, err := f.svc.CollectEnded(ctx, "manager")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if collected != 1 {
		t.Fatalf("expected 1 collected stream, got %d", collected)
	}
	if _, err := f.svc.Get(ctx, st.ID); err == nil {
		t.Fatalf("collected stream still present")
	}
}
