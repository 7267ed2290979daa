// Package memory 是账本存储的进程内实现，用于单元测试与本地调试。
// 写操作（含事务）串行执行；事务内的修改先暂存，回调成功后一次性提交。
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"

	"github.com/gogogo1024/custody-ledger/biz/engine"
	"github.com/gogogo1024/custody-ledger/biz/errno"
	"github.com/gogogo1024/custody-ledger/biz/model"
)

type Store struct {
	txMu sync.Mutex   // 串行化所有写
	mu   sync.RWMutex // 保护下面的数据

	balances      map[string]*model.Balance
	entries       []*model.LedgerEntry
	transfers     map[string]*model.ExternalTransfer
	expiry        *skiplist.SkipList // expiryKey -> code，仅包含待领取记录
	launches      map[string]*model.TokenLaunch
	withdrawals   map[string]*model.WithdrawalRequest
	buyRequests   map[string]*model.BuyRequest
	audits        []*model.AdminAuditLog
	compensations map[string]*model.Compensation
	settings      map[string]*model.Setting

	launchSaveErr error // 测试注入
}

var _ engine.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		balances:      make(map[string]*model.Balance),
		transfers:     make(map[string]*model.ExternalTransfer),
		expiry:        skiplist.New(expiryComparator{}),
		launches:      make(map[string]*model.TokenLaunch),
		withdrawals:   make(map[string]*model.WithdrawalRequest),
		buyRequests:   make(map[string]*model.BuyRequest),
		compensations: make(map[string]*model.Compensation),
		settings:      make(map[string]*model.Setting),
	}
}

// 跳表按过期时间升序，同一时刻按 code 排序
type expiryKey struct {
	at   int64
	code string
}

type expiryComparator struct{}

func (expiryComparator) Compare(l, r interface{}) int {
	lk, rk := l.(expiryKey), r.(expiryKey)
	switch {
	case lk.at < rk.at:
		return -1
	case lk.at > rk.at:
		return 1
	case lk.code < rk.code:
		return -1
	case lk.code > rk.code:
		return 1
	}
	return 0
}

func (expiryComparator) CalcScore(key interface{}) float64 {
	return float64(key.(expiryKey).at)
}

func (s *Store) InTx(ctx context.Context, fn func(tx engine.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := newTx(s)
	if err := fn(tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range tx.balances {
		s.balances[k] = v
	}
	s.entries = append(s.entries, tx.entries...)
	for code, t := range tx.transfers {
		if old, ok := s.transfers[code]; ok {
			s.expiry.Remove(expiryKey{at: old.ExpiresAt.UnixNano(), code: code})
		}
		s.transfers[code] = t
		if t.Status == model.TransferPendingClaim {
			s.expiry.Set(expiryKey{at: t.ExpiresAt.UnixNano(), code: code}, code)
		}
	}
	for k, v := range tx.launches {
		s.launches[k] = v
	}
	for k, v := range tx.withdrawals {
		s.withdrawals[k] = v
	}
	for k, v := range tx.buyRequests {
		s.buyRequests[k] = v
	}
	s.audits = append(s.audits, tx.audits...)
}

func (s *Store) CreateBalance(ctx context.Context, b *model.Balance) (bool, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.balances[b.UserID]; ok {
		return false, nil
	}
	cp := *b
	s.balances[b.UserID] = &cp
	return true, nil
}

func (s *Store) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[userID]
	if !ok {
		return nil, errno.ErrBalanceNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *Store) ListEntries(ctx context.Context, userID string, currency model.Currency, limit int) ([]*model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.LedgerEntry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.entries[i]
		if e.UserID != userID || (currency != "" && e.Currency != currency) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) SumEntries(ctx context.Context, userID string) (map[model.Currency]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sums := make(map[model.Currency]decimal.Decimal)
	for _, e := range s.entries {
		if e.UserID == userID {
			sums[e.Currency] = sums[e.Currency].Add(e.Amount)
		}
	}
	return sums, nil
}

// Entries 测试辅助：某用户全部流水，按写入顺序
func (s *Store) Entries(userID string) []*model.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.LedgerEntry
	for _, e := range s.entries {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

// Audits 测试辅助
func (s *Store) Audits() []*model.AdminAuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*model.AdminAuditLog(nil), s.audits...)
}

func (s *Store) GetTransfer(ctx context.Context, code string) (*model.ExternalTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transfers[code]
	if !ok {
		return nil, errno.ErrCodeNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ListTransfers(ctx context.Context, userID string, limit int) ([]*model.ExternalTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.ExternalTransfer
	for _, t := range s.transfers {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*model.ExternalTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.ExternalTransfer
	for elem := s.expiry.Front(); elem != nil && len(out) < limit; elem = elem.Next() {
		key := elem.Key().(expiryKey)
		if key.at >= now.UnixNano() {
			break
		}
		t := s.transfers[key.code]
		if t == nil || !t.Expirable(now) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) AcquireClaimLease(ctx context.Context, code, token string, now, until time.Time) (bool, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[code]
	if !ok || t.Status != model.TransferPendingClaim || t.SettlementPending() || t.ExpiredAt(now) || t.LeaseActive(now) {
		return false, nil
	}
	cp := *t
	cp.ClaimToken = token
	cp.ClaimLeaseUntil = &until
	cp.UpdatedAt = now
	s.transfers[code] = &cp
	return true, nil
}

func (s *Store) ReleaseClaimLease(ctx context.Context, code, token string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[code]
	if !ok || t.ClaimToken != token {
		return nil
	}
	cp := *t
	cp.ClaimToken = ""
	cp.ClaimLeaseUntil = nil
	s.transfers[code] = &cp
	return nil
}

func (s *Store) MarkSettlementPending(ctx context.Context, code, ref string, now time.Time) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[code]
	if !ok || t.Status != model.TransferPendingClaim {
		return fmt.Errorf("transfer %s is no longer pending", code)
	}
	cp := *t
	cp.ExternalRef = ref
	cp.UpdatedAt = now
	s.transfers[code] = &cp
	return nil
}

func (s *Store) CreateLaunch(ctx context.Context, l *model.TokenLaunch) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.launches[l.ID]; ok {
		return fmt.Errorf("token launch %s already exists", l.ID)
	}
	cp := *l
	s.launches[l.ID] = &cp
	return nil
}

// FailLaunchSaves 测试辅助：之后事务内的 SaveLaunch 都返回 err，传 nil 恢复
func (s *Store) FailLaunchSaves(err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.launchSaveErr = err
}

func (s *Store) GetLaunch(ctx context.Context, id string) (*model.TokenLaunch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.launches[id]
	if !ok {
		return nil, errno.ErrLaunchNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *Store) ListLaunches(ctx context.Context, userID string) ([]*model.TokenLaunch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.TokenLaunch
	for _, l := range s.launches {
		if l.UserID == userID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListWithdrawals(ctx context.Context, userID string) ([]*model.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.WithdrawalRequest
	for _, w := range s.withdrawals {
		if w.UserID == userID {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListWithdrawalsByStatus(ctx context.Context, status model.WithdrawalStatus, limit int) ([]*model.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.WithdrawalRequest
	for _, w := range s.withdrawals {
		if status == "" || w.Status == status {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListBuyRequests(ctx context.Context, userID string, status model.BuyRequestStatus, limit int) ([]*model.BuyRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.BuyRequest
	for _, r := range s.buyRequests {
		if (userID == "" || r.UserID == userID) && (status == "" || r.Status == status) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func compensationKey(kind model.CompensationKind, ref string) string {
	return string(kind) + "|" + ref
}

func (s *Store) SaveCompensation(ctx context.Context, c *model.Compensation) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	key := compensationKey(c.Kind, c.RefID)
	if _, ok := s.compensations[key]; ok {
		return nil
	}
	cp := *c
	s.compensations[key] = &cp
	return nil
}

func (s *Store) ListPendingCompensations(ctx context.Context, limit int) ([]*model.Compensation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Compensation
	for _, c := range s.compensations {
		if c.Status == model.CompensationPending {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateCompensation(ctx context.Context, c *model.Compensation) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.compensations[compensationKey(c.Kind, c.RefID)] = &cp
	return nil
}

// Compensations 测试辅助
func (s *Store) Compensations() []*model.Compensation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Compensation
	for _, c := range s.compensations {
		cp := *c
		out = append(out, &cp)
	}
	return out
}

func (s *Store) GetSetting(ctx context.Context, key string) (*model.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	if !ok {
		return nil, errno.ErrSettingNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *Store) PutSetting(ctx context.Context, st *model.Setting) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.settings[st.Key] = &cp
	return nil
}
