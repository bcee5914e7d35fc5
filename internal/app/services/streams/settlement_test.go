package streams

import (
	"context"
	"testing"
	"time"

	"github.com/NStream-Network/stream_layer/internal/app/domain/stream"
)

func TestTimeoutResolverFailsAfterTimeout(t *testing.T) {
	r := NewTimeoutResolver(time.Nanosecond)
	tr := stream.Transfer{ID: "tr-1"}

	done, _, _, _, err := r.Resolve(context.Background(), tr)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if done {
		t.Fatalf("first sighting must not settle")
	}

	time.Sleep(time.Millisecond)
	done, success, message, _, err := r.Resolve(context.Background(), tr)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if !done || success {
		t.Fatalf("expected timeout failure, got done=%t success=%t", done, success)
	}
	if message == "" {
		t.Fatalf("timeout failure should carry a message")
	}
}

type verdictResolver struct {
	success bool
	message string
}

func (r verdictResolver) Resolve(context.Context, stream.Transfer) (bool, bool, string, time.Duration, error) {
	return true, r.success, r.message, 0, nil
}

func TestSettlementPollerCompensatesPendingTransfer(t *testing.T) {
	f, st := newTokenFixture(t, &captureInitiator{})
	ctx := context.Background()

	f.clock.now = 40
	_, tr, err := f.svc.Withdraw(ctx, "bob", st.ID)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	poller := NewSettlementPoller(f.store, f.svc, verdictResolver{success: false, message: "rejected"}, nil)
	poller.tick(ctx)

	settled, err := f.store.GetTransfer(ctx, tr.ID)
	if err != nil {
		t.Fatalf("get transfer: %v", err)
	}
	if settled.Status != stream.StatusFailed || settled.Failure != "rejected" {
		t.Fatalf("transfer not settled by poller: %+v", settled)
	}

	restored, err := f.svc.Get(ctx, st.ID)
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	if restored.Locked || restored.Balance != 10000 {
		t.Fatalf("poller settlement did not compensate: %+v", restored)
	}
}

func TestSettlementPollerConfirmsPendingTransfer(t *testing.T) {
	f, st := newTokenFixture(t, &captureInitiator{})
	ctx := context.Background()

	f.clock.now = 40
	locked, tr, err := f.svc.Withdraw(ctx, "bob", st.ID)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	poller := NewSettlementPoller(f.store, f.svc, verdictResolver{success: true}, nil)
	poller.tick(ctx)

	settled, err := f.store.GetTransfer(ctx, tr.ID)
	if err != nil {
		t.Fatalf("get transfer: %v", err)
	}
	if settled.Status != stream.StatusCompleted {
		t.Fatalf("transfer not confirmed: %+v", settled)
	}

	confirmed, err := f.svc.Get(ctx, st.ID)
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	if confirmed.Locked || confirmed.Balance != locked.Balance {
		t.Fatalf("confirmation should only unlock: %+v", confirmed)
	}
}

func TestSettlementPollerStartStop(t *testing.T) {
	f, _ := newTokenFixture(t, &captureInitiator{})

	poller := NewSettlementPoller(f.store, f.svc, verdictResolver{success: true}, nil)
	ctx := context.Background()
	if err := poller.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := poller.Start(ctx); err != nil {
		t.Fatalf("double start should be a no-op: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := poller.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := poller.Stop(stopCtx); err != nil {
		t.Fatalf("double stop should be a no-op: %v", err)
	}
}
