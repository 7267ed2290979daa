package memory

import (
	"context"

	"github.com/gogogo1024/custody-ledger/biz/errno"
	"github.com/gogogo1024/custody-ledger/biz/model"
)

// memTx 暂存事务内的写，读时优先看暂存
type memTx struct {
	s           *Store
	balances    map[string]*model.Balance
	entries     []*model.LedgerEntry
	transfers   map[string]*model.ExternalTransfer
	launches    map[string]*model.TokenLaunch
	withdrawals map[string]*model.WithdrawalRequest
	buyRequests map[string]*model.BuyRequest
	audits      []*model.AdminAuditLog
}

func newTx(s *Store) *memTx {
	return &memTx{
		s:           s,
		balances:    make(map[string]*model.Balance),
		transfers:   make(map[string]*model.ExternalTransfer),
		launches:    make(map[string]*model.TokenLaunch),
		withdrawals: make(map[string]*model.WithdrawalRequest),
		buyRequests: make(map[string]*model.BuyRequest),
	}
}

func (t *memTx) LockBalance(ctx context.Context, userID string) (*model.Balance, error) {
	if b, ok := t.balances[userID]; ok {
		cp := *b
		return &cp, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	b, ok := t.s.balances[userID]
	if !ok {
		return nil, errno.ErrBalanceNotFound
	}
	cp := *b
	return &cp, nil
}

func (t *memTx) SaveBalance(ctx context.Context, b *model.Balance) error {
	cp := *b
	t.balances[b.UserID] = &cp
	return nil
}

func (t *memTx) AppendEntry(ctx context.Context, e *model.LedgerEntry) error {
	cp := *e
	t.entries = append(t.entries, &cp)
	return nil
}

func (t *memTx) CreateTransfer(ctx context.Context, tr *model.ExternalTransfer) error {
	if _, ok := t.transfers[tr.Code]; ok {
		return errno.ErrDuplicateCode
	}
	t.s.mu.RLock()
	_, exists := t.s.transfers[tr.Code]
	t.s.mu.RUnlock()
	if exists {
		return errno.ErrDuplicateCode
	}
	cp := *tr
	t.transfers[tr.Code] = &cp
	return nil
}

func (t *memTx) LockTransfer(ctx context.Context, code string) (*model.ExternalTransfer, error) {
	if tr, ok := t.transfers[code]; ok {
		cp := *tr
		return &cp, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	tr, ok := t.s.transfers[code]
	if !ok {
		return nil, errno.ErrCodeNotFound
	}
	cp := *tr
	return &cp, nil
}

func (t *memTx) SaveTransfer(ctx context.Context, tr *model.ExternalTransfer) error {
	cp := *tr
	t.transfers[tr.Code] = &cp
	return nil
}

func (t *memTx) LockLaunch(ctx context.Context, id string) (*model.TokenLaunch, error) {
	if l, ok := t.launches[id]; ok {
		cp := *l
		return &cp, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	l, ok := t.s.launches[id]
	if !ok {
		return nil, errno.ErrLaunchNotFound
	}
	cp := *l
	return &cp, nil
}

func (t *memTx) SaveLaunch(ctx context.Context, l *model.TokenLaunch) error {
	if t.s.launchSaveErr != nil {
		return t.s.launchSaveErr
	}
	cp := *l
	t.launches[l.ID] = &cp
	return nil
}

func (t *memTx) CreateWithdrawal(ctx context.Context, w *model.WithdrawalRequest) error {
	cp := *w
	t.withdrawals[w.ID] = &cp
	return nil
}

func (t *memTx) LockWithdrawal(ctx context.Context, id string) (*model.WithdrawalRequest, error) {
	if w, ok := t.withdrawals[id]; ok {
		cp := *w
		return &cp, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	w, ok := t.s.withdrawals[id]
	if !ok {
		return nil, errno.ErrWithdrawalNotFound
	}
	cp := *w
	return &cp, nil
}

func (t *memTx) SaveWithdrawal(ctx context.Context, w *model.WithdrawalRequest) error {
	cp := *w
	t.withdrawals[w.ID] = &cp
	return nil
}

func (t *memTx) HasPendingWithdrawal(ctx context.Context, userID string) (bool, error) {
	for _, w := range t.withdrawals {
		if w.UserID == userID && w.Status == model.WithdrawalPending {
			return true, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for id, w := range t.s.withdrawals {
		if _, staged := t.withdrawals[id]; staged {
			continue
		}
		if w.UserID == userID && w.Status == model.WithdrawalPending {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CreateBuyRequest(ctx context.Context, r *model.BuyRequest) error {
	cp := *r
	t.buyRequests[r.ID] = &cp
	return nil
}

func (t *memTx) LockBuyRequest(ctx context.Context, id string) (*model.BuyRequest, error) {
	if r, ok := t.buyRequests[id]; ok {
		cp := *r
		return &cp, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	r, ok := t.s.buyRequests[id]
	if !ok {
		return nil, errno.ErrBuyRequestNotFound
	}
	cp := *r
	return &cp, nil
}

func (t *memTx) SaveBuyRequest(ctx context.Context, r *model.BuyRequest) error {
	cp := *r
	t.buyRequests[r.ID] = &cp
	return nil
}

func (t *memTx) AppendAudit(ctx context.Context, a *model.AdminAuditLog) error {
	cp := *a
	t.audits = append(t.audits, &cp)
	return nil
}
