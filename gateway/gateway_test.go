package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogogo1024/custody-ledger/conf"
)

func testConf(chainURL, partnerURL string) conf.Gateway {
	return conf.Gateway{
		ChainURL:       chainURL,
		ChainSecret:    "chain-secret",
		PartnerURL:     partnerURL,
		PartnerSecret:  "partner-secret",
		Timeout:        2 * time.Second,
		ConfirmTimeout: 2 * time.Second,
		PollInterval:   10 * time.Millisecond,
	}
}

func TestSubmitValueTransferWaitsForConfirmation(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "chain-secret", r.Header.Get(secretHeader))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/transfers":
			var req TransferRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "tr-1", req.Reference)
			assert.True(t, req.Amount.Equal(decimal.RequireFromString("12.5")))
			_, _ = w.Write([]byte(`{"reference":"tr-1","tx_hash":"0xabc","status":"PENDING"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/transfers/tr-1":
			if polls.Add(1) < 3 {
				_, _ = w.Write([]byte(`{"status":"PENDING"}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":"CONFIRMED"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := NewChainClient(testConf(srv.URL, srv.URL))
	require.NoError(t, err)
	receipt, err := c.SubmitValueTransfer(context.Background(), TransferRequest{
		Destination: "0xdead",
		Amount:      decimal.RequireFromString("12.5"),
		Asset:       "SGC",
		Reference:   "tr-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", receipt.TxHash)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestSubmitValueTransferFailedOnChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"reference":"tr-2","status":"PENDING"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"FAILED"}`))
	}))
	defer srv.Close()

	c, err := NewChainClient(testConf(srv.URL, srv.URL))
	require.NoError(t, err)
	_, err = c.SubmitValueTransfer(context.Background(), TransferRequest{Amount: decimal.NewFromInt(1), Reference: "tr-2"})
	require.ErrorIs(t, err, ErrTransferRejected)
}

func TestSubmitValueTransferRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"insufficient hot wallet funds"}`))
	}))
	defer srv.Close()

	c, err := NewChainClient(testConf(srv.URL, srv.URL))
	require.NoError(t, err)
	_, err = c.SubmitValueTransfer(context.Background(), TransferRequest{Amount: decimal.NewFromInt(1), Reference: "tr-3"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnprocessableEntity, se.Status)
	assert.Equal(t, "insufficient hot wallet funds", se.Message)
	assert.True(t, se.Permanent())
}

func TestSubmitValueTransferNeedsReference(t *testing.T) {
	c, err := NewChainClient(testConf("http://127.0.0.1:1", "http://127.0.0.1:1"))
	require.NoError(t, err)
	_, err = c.SubmitValueTransfer(context.Background(), TransferRequest{Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ErrTransferRejected)
}

func TestDeployToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p DeployParams
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "MOON", p.Symbol)
		assert.Len(t, p.Allocations, 2)
		_, _ = w.Write([]byte(`{"reference":"dep-1","token_address":"0xtoken","tx_hash":"0xhash"}`))
	}))
	defer srv.Close()

	c, err := NewChainClient(testConf(srv.URL, srv.URL))
	require.NoError(t, err)
	r, err := c.DeployToken(context.Background(), DeployParams{
		LaunchID: "l-1",
		Symbol:   "MOON",
		Allocations: []DeployAllocation{
			{Category: "CREATOR", Amount: decimal.NewFromInt(600)},
			{Category: "LIQUIDITY", Amount: decimal.NewFromInt(400)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "0xtoken", r.TokenAddress)
	assert.Equal(t, "dep-1", r.Reference)
}

func TestVerifyAndBurnCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "partner-secret", r.Header.Get(secretHeader))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["code"] == "GOOD" {
			_, _ = w.Write([]byte(`{"success":true,"amount":"25.50","reference":"p-9"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":false,"error":"code already used"}`))
	}))
	defer srv.Close()

	p, err := NewPartnerClient(testConf(srv.URL, srv.URL))
	require.NoError(t, err)

	credit, err := p.VerifyAndBurnCode(context.Background(), "GOOD")
	require.NoError(t, err)
	assert.True(t, credit.Amount.Equal(decimal.RequireFromString("25.5")))
	assert.Equal(t, "p-9", credit.Reference)

	_, err = p.VerifyAndBurnCode(context.Background(), "USED")
	require.ErrorIs(t, err, ErrTransferRejected)
}
