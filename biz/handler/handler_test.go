package handler_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/gogogo1024/custody-ledger/biz/dal/memory"
	"github.com/gogogo1024/custody-ledger/biz/engine"
	"github.com/gogogo1024/custody-ledger/biz/errno"
	"github.com/gogogo1024/custody-ledger/biz/handler"
	"github.com/gogogo1024/custody-ledger/biz/router"
	"github.com/gogogo1024/custody-ledger/biz/service"
	"github.com/gogogo1024/custody-ledger/gateway"
	"github.com/gogogo1024/custody-ledger/middleware"
)

const partnerSecret = "s3cret"

type okGateway struct{}

func (okGateway) SubmitValueTransfer(_ context.Context, req gateway.TransferRequest) (*gateway.TransferReceipt, error) {
	return &gateway.TransferReceipt{Reference: req.Reference, TxHash: "0x1"}, nil
}

func (okGateway) QueryTransferStatus(context.Context, string) (gateway.TransferStatus, error) {
	return gateway.TransferConfirmed, nil
}

func (okGateway) VerifyAndBurnCode(_ context.Context, code string) (*gateway.PartnerCredit, error) {
	return &gateway.PartnerCredit{Amount: decimal.NewFromInt(25), Reference: "p-" + code}, nil
}

func (okGateway) DeployToken(_ context.Context, p gateway.DeployParams) (*gateway.DeployReceipt, error) {
	return &gateway.DeployReceipt{Reference: p.LaunchID, TokenAddress: "0xtoken", TxHash: "0x2"}, nil
}

func newServer(t *testing.T, limiter *middleware.RateLimiter) *server.Hertz {
	t.Helper()
	var seq atomic.Uint64
	store := memory.NewStore()
	e := engine.NewEngine(store, engine.WithIDGenerator(func() (uint64, error) { return seq.Add(1), nil }))
	comp := service.NewCompensationService(store, e.Now)
	price := service.NewPriceService(store, nil, "SGC_OFFICIAL_PRICE_USD", e.Now)
	gw := okGateway{}
	softlock := service.NewSoftLockService(e, price, gw, comp, service.SoftLockConfig{CodeTTL: 10 * time.Minute, ClaimLeaseTTL: time.Minute})
	fees := service.LaunchFees{FunFee: decimal.NewFromInt(1), SuperFee: decimal.NewFromInt(100), SuperPlatformFee: decimal.NewFromInt(10)}
	launches := service.NewTokenLaunchService(e, service.NewFeeEscrow(e, comp), gw, comp, fees)
	wallet := service.NewWalletService(e, price, gw, comp)

	h := server.New()
	router.Register(h, handler.New(e, wallet, softlock, launches, price), router.PartnerOptions{
		Secret:  partnerSecret,
		Limiter: limiter,
	})
	return h
}

func do(h *server.Hertz, method, url, body string, headers ...ut.Header) (int, gjson.Result) {
	headers = append(headers, ut.Header{Key: "Content-Type", Value: "application/json"})
	var b *ut.Body
	if body != "" {
		b = &ut.Body{Body: bytes.NewBufferString(body), Len: len(body)}
	}
	resp := ut.PerformRequest(h.Engine, method, url, b, headers...).Result()
	return resp.StatusCode(), gjson.ParseBytes(resp.Body())
}

func user(id string) ut.Header { return ut.Header{Key: middleware.HeaderUserID, Value: id} }
func admin(id string) ut.Header { return ut.Header{Key: middleware.HeaderAdminID, Value: id} }

func TestStatusOf(t *testing.T) {
	cases := map[error]int{
		errno.ErrInvalidAmount:                         consts.StatusBadRequest,
		errno.ErrBalanceNotFound:                       consts.StatusNotFound,
		errno.ErrCodeAlreadyClaimed:                    consts.StatusConflict,
		errno.ErrExternalTransferFailed:                consts.StatusBadGateway,
		errno.Storage(errors.New("conn reset")):        consts.StatusInternalServerError,
		fmt.Errorf("wrap: %w", errno.ErrBalanceFrozen): consts.StatusConflict,
		errors.New("boom"):                             consts.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, handler.StatusOf(err), err.Error())
	}
}

func TestIdentityRequired(t *testing.T) {
	h := newServer(t, nil)

	status, body := do(h, consts.MethodGet, "/api/v1/balance", "")
	assert.Equal(t, consts.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHENTICATED", body.Get("code").String())

	status, _ = do(h, consts.MethodPut, "/api/v1/admin/price", `{"price":"1"}`, user("alice"))
	assert.Equal(t, consts.StatusForbidden, status)

	status, _ = do(h, consts.MethodPost, "/api/v1/partner/transfers/claim", `{"code":"SGT-1"}`)
	assert.Equal(t, consts.StatusUnauthorized, status)
}

func TestReserveAndClaimOverHTTP(t *testing.T) {
	h := newServer(t, nil)
	partner := ut.Header{Key: middleware.HeaderPartnerSecret, Value: partnerSecret}

	status, _ := do(h, consts.MethodPut, "/api/v1/admin/price", `{"price":"0.5"}`, admin("root"))
	require.Equal(t, consts.StatusOK, status)

	status, body := do(h, consts.MethodGet, "/api/v1/balance", "", user("alice"))
	require.Equal(t, consts.StatusOK, status)
	assert.Equal(t, "ACTIVE", body.Get("status").String())

	status, _ = do(h, consts.MethodPost, "/api/v1/admin/users/alice/adjust",
		`{"currency":"SGC","amount":"100","credit":true,"reason":"seed"}`, admin("root"))
	require.Equal(t, consts.StatusOK, status)

	status, body = do(h, consts.MethodPost, "/api/v1/transfers/external", `{"amount":"10"}`, user("alice"))
	require.Equal(t, consts.StatusCreated, status, body.Raw)
	code := body.Get("code").String()
	assert.Regexp(t, `^SGT-[0-9A-F]{8}-[0-9A-F]{8}$`, code)
	assert.Equal(t, "5", body.Get("amount_fiat").String())

	_, body = do(h, consts.MethodGet, "/api/v1/balance", "", user("alice"))
	assert.Equal(t, "90", body.Get("token_available").String())
	assert.Equal(t, "10", body.Get("token_locked").String())

	claim := fmt.Sprintf(`{"code":%q}`, code)
	status, body = do(h, consts.MethodPost, "/api/v1/partner/transfers/claim", claim, partner)
	require.Equal(t, consts.StatusOK, status, body.Raw)
	assert.Equal(t, "alice", body.Get("user_id").String())

	status, body = do(h, consts.MethodPost, "/api/v1/partner/transfers/claim", claim, partner)
	assert.Equal(t, consts.StatusConflict, status)
	assert.Equal(t, errno.ErrCodeAlreadyClaimed.Code, body.Get("code").String())

	_, body = do(h, consts.MethodGet, "/api/v1/balance", "", user("alice"))
	assert.Equal(t, "90", body.Get("token_available").String())
	assert.Equal(t, "0", body.Get("token_locked").String())

	status, body = do(h, consts.MethodGet, "/api/v1/admin/users/alice/reconcile", "", admin("root"))
	require.Equal(t, consts.StatusOK, status)
	assert.True(t, body.Get("balanced").Bool())

	_, body = do(h, consts.MethodGet, "/api/v1/ledger?currency=SGC", "", user("alice"))
	assert.Len(t, body.Get("entries").Array(), 2)
}

func TestErrorRendering(t *testing.T) {
	h := newServer(t, nil)
	partner := ut.Header{Key: middleware.HeaderPartnerSecret, Value: partnerSecret}

	do(h, consts.MethodGet, "/api/v1/balance", "", user("bob"))

	status, body := do(h, consts.MethodPost, "/api/v1/buy", `{"amount":"1"}`, user("bob"))
	assert.Equal(t, consts.StatusBadGateway, status)
	assert.Equal(t, errno.ErrPriceUnavailable.Code, body.Get("code").String())
	assert.True(t, body.Get("retryable").Bool())

	status, body = do(h, consts.MethodPost, "/api/v1/transfers/internal", `{"to_user_id":"bob","amount":"1"}`, user("bob"))
	assert.Equal(t, consts.StatusBadRequest, status)
	assert.Equal(t, errno.ErrSelfTransfer.Code, body.Get("code").String())

	status, body = do(h, consts.MethodPost, "/api/v1/partner/transfers/claim", `{"code":"SGT-00000000-00000000"}`, partner)
	assert.Equal(t, consts.StatusNotFound, status)
	assert.Equal(t, errno.ErrCodeNotFound.Code, body.Get("code").String())

	status, body = do(h, consts.MethodGet, "/api/v1/ledger?currency=EUR", "", user("bob"))
	assert.Equal(t, consts.StatusBadRequest, status)
	assert.Equal(t, errno.ErrInvalidCurrency.Code, body.Get("code").String())

	status, _ = do(h, consts.MethodPost, "/api/v1/admin/users/bob/freeze", `{"reason":"kyc"}`, admin("root"))
	require.Equal(t, consts.StatusOK, status)
	status, body = do(h, consts.MethodPost, "/api/v1/redeem", `{"code":"PARTNER-1"}`, user("bob"))
	assert.Equal(t, consts.StatusConflict, status)
	assert.Equal(t, errno.ErrBalanceFrozen.Code, body.Get("code").String())
}

func TestPartnerRateLimit(t *testing.T) {
	h := newServer(t, middleware.NewRateLimiter(0.001, 1))
	partner := ut.Header{Key: middleware.HeaderPartnerSecret, Value: partnerSecret}

	status, _ := do(h, consts.MethodPost, "/api/v1/partner/transfers/claim", `{"code":"SGT-1"}`, partner)
	assert.Equal(t, consts.StatusNotFound, status)
	status, body := do(h, consts.MethodPost, "/api/v1/partner/transfers/claim", `{"code":"SGT-1"}`, partner)
	assert.Equal(t, consts.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMITED", body.Get("code").String())
}

func TestBankBuyOverHTTP(t *testing.T) {
	h := newServer(t, nil)
	status, _ := do(h, consts.MethodPut, "/api/v1/admin/price", `{"price":"0.5"}`, admin("root"))
	require.Equal(t, consts.StatusOK, status)
	status, _ = do(h, consts.MethodGet, "/api/v1/balance", "", user("alice"))
	require.Equal(t, consts.StatusOK, status)

	status, body := do(h, consts.MethodPost, "/api/v1/buy/bank",
		`{"bank_region":"DUBAI","fiat_amount":"10","fiat_currency":"USD","reference_note":"alice"}`, user("alice"))
	require.Equal(t, consts.StatusCreated, status, body.Raw)
	id := body.Get("id").String()
	assert.Equal(t, "PENDING", body.Get("status").String())
	assert.Equal(t, "20", body.Get("locked_token_amount").String())

	status, body = do(h, consts.MethodGet, "/api/v1/admin/buy-requests?status=PENDING", "", admin("root"))
	require.Equal(t, consts.StatusOK, status)
	assert.Equal(t, int64(1), body.Get("buy_requests.#").Int())

	status, body = do(h, consts.MethodPost, "/api/v1/admin/buy-requests/"+id+"/approve",
		`{"user_id":"alice","notes":"received"}`, admin("root"))
	require.Equal(t, consts.StatusOK, status, body.Raw)
	assert.Equal(t, "APPROVED", body.Get("status").String())

	_, body = do(h, consts.MethodGet, "/api/v1/balance", "", user("alice"))
	assert.Equal(t, "20", body.Get("token_available").String())

	status, body = do(h, consts.MethodPost, "/api/v1/admin/buy-requests/"+id+"/reject",
		`{"user_id":"alice"}`, admin("root"))
	assert.Equal(t, consts.StatusConflict, status)
	assert.Equal(t, "INVALID_STATE", body.Get("code").String())

	_, body = do(h, consts.MethodGet, "/api/v1/buy/bank", "", user("alice"))
	assert.Equal(t, int64(1), body.Get("buy_requests.#").Int())

	status, body = do(h, consts.MethodGet, "/api/v1/admin/withdrawals?status=PENDING", "", admin("root"))
	require.Equal(t, consts.StatusOK, status)
	assert.Equal(t, int64(0), body.Get("withdrawals.#").Int())
	status, _ = do(h, consts.MethodGet, "/api/v1/admin/withdrawals?status=PAID", "", admin("root"))
	assert.Equal(t, consts.StatusBadRequest, status)
}
