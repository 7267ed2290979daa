package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/shopspring/decimal"

	"github.com/gogogo1024/custody-ledger/conf"
)

// PartnerClient 合作方平台的兑换码核销接口
type PartnerClient struct {
	http *httpCaller
}

var _ PartnerRedeemer = (*PartnerClient)(nil)

func NewPartnerClient(c conf.Gateway) (*PartnerClient, error) {
	h, err := newHTTPCaller(strings.TrimRight(c.PartnerURL, "/"), c.PartnerSecret, c.Timeout)
	if err != nil {
		return nil, err
	}
	return &PartnerClient{http: h}, nil
}

func (p *PartnerClient) VerifyAndBurnCode(ctx context.Context, code string) (*PartnerCredit, error) {
	res, err := p.http.call(ctx, "partner_redeem", consts.MethodPost, "/api/v1/redeem/verify-burn", map[string]string{"code": code})
	if err != nil {
		return nil, err
	}
	if !res.Get("success").Bool() {
		return nil, fmt.Errorf("%w: partner refused code: %s", ErrTransferRejected, res.Get("error").String())
	}
	amount, err := decimal.NewFromString(res.Get("amount").String())
	if err != nil || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount %q", ErrBadResponse, res.Get("amount").String())
	}
	return &PartnerCredit{Amount: amount, Reference: res.Get("reference").String()}, nil
}
