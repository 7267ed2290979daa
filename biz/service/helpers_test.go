package service_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogogo1024/custody-ledger/biz/dal/memory"
	"github.com/gogogo1024/custody-ledger/biz/engine"
	"github.com/gogogo1024/custody-ledger/biz/model"
	"github.com/gogogo1024/custody-ledger/biz/service"
	"github.com/gogogo1024/custody-ledger/gateway"
)

var ctx = context.Background()

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixedRate struct {
	rate decimal.Decimal
	err  error
}

func (r fixedRate) CurrentRate(context.Context) (decimal.Decimal, error) {
	return r.rate, r.err
}

// fakeTransferer 记录调用次数；hook 在返回前执行，可用来模拟慢调用或并发场景
type fakeTransferer struct {
	calls atomic.Int32
	err   error
	hook  func(req gateway.TransferRequest)
	mu    sync.Mutex
	refs  []string
}

func (f *fakeTransferer) SubmitValueTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferReceipt, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.refs = append(f.refs, req.Reference)
	f.mu.Unlock()
	if f.hook != nil {
		f.hook(req)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.TransferReceipt{Reference: req.Reference, TxHash: "0xhash-" + req.Reference}, nil
}

func (f *fakeTransferer) QueryTransferStatus(ctx context.Context, reference string) (gateway.TransferStatus, error) {
	return gateway.TransferConfirmed, nil
}

type env struct {
	store *memory.Store
	clock *fakeClock
	eng   *engine.Engine
	comp  *service.CompensationService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	var seq atomic.Uint64
	clock := newClock()
	store := memory.NewStore()
	eng := engine.NewEngine(store,
		engine.WithClock(clock.Now),
		engine.WithIDGenerator(func() (uint64, error) { return seq.Add(1), nil }),
	)
	return &env{
		store: store,
		clock: clock,
		eng:   eng,
		comp:  service.NewCompensationService(store, clock.Now),
	}
}

// open 建档并按需入金
func (e *env) open(t *testing.T, userID, token, fiat string) {
	t.Helper()
	_, err := e.eng.OpenBalance(ctx, userID)
	require.NoError(t, err)
	seed := model.AdminAdjust{Credit: true, AdminID: "seed", Reason: "seed"}
	if token != "" {
		_, err = e.eng.ApplyEntry(ctx, userID, model.CurrencyToken, decimal.RequireFromString(token), seed)
		require.NoError(t, err)
	}
	if fiat != "" {
		_, err = e.eng.ApplyEntry(ctx, userID, model.CurrencyFiat, decimal.RequireFromString(fiat), seed)
		require.NoError(t, err)
	}
}

func (e *env) balance(t *testing.T, userID string) *model.Balance {
	t.Helper()
	b, err := e.store.GetBalance(ctx, userID)
	require.NoError(t, err)
	return b
}

func (e *env) assertBalanced(t *testing.T, userID string) {
	t.Helper()
	r, err := e.eng.Reconcile(ctx, userID)
	require.NoError(t, err)
	assert.True(t, r.Balanced, "ledger drift: %+v", r.Lines)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s got %s", want, got)
}
