package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/gogogo1024/custody-ledger/conf"
)

// ChainClient 托管签名服务客户端：提交转账后轮询确认，发币同步等待回执
type ChainClient struct {
	http           *httpCaller
	confirmTimeout time.Duration
	pollInterval   time.Duration
}

var (
	_ ValueTransferer = (*ChainClient)(nil)
	_ TokenDeployer   = (*ChainClient)(nil)
)

func NewChainClient(c conf.Gateway) (*ChainClient, error) {
	h, err := newHTTPCaller(strings.TrimRight(c.ChainURL, "/"), c.ChainSecret, c.Timeout)
	if err != nil {
		return nil, err
	}
	cc := &ChainClient{http: h, confirmTimeout: c.ConfirmTimeout, pollInterval: c.PollInterval}
	if cc.confirmTimeout <= 0 {
		cc.confirmTimeout = 60 * time.Second
	}
	if cc.pollInterval <= 0 {
		cc.pollInterval = 2 * time.Second
	}
	return cc, nil
}

// SubmitValueTransfer 提交并等待确认。超时返回 ErrTransferUnconfirmed；
// 同一 Reference 重复提交由签名服务去重，调用方可以安全重试。
func (c *ChainClient) SubmitValueTransfer(ctx context.Context, req TransferRequest) (*TransferReceipt, error) {
	if req.Reference == "" {
		return nil, fmt.Errorf("%w: reference required", ErrTransferRejected)
	}
	res, err := c.http.call(ctx, "submit_transfer", consts.MethodPost, "/v1/transfers", req)
	if err != nil {
		return nil, err
	}
	receipt := &TransferReceipt{
		Reference: res.Get("reference").String(),
		TxHash:    res.Get("tx_hash").String(),
	}
	if receipt.Reference == "" {
		receipt.Reference = req.Reference
	}
	if TransferStatus(res.Get("status").String()) == TransferConfirmed {
		return receipt, nil
	}
	if err := c.waitConfirmed(ctx, receipt.Reference); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (c *ChainClient) waitConfirmed(ctx context.Context, ref string) error {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		status, err := c.QueryTransferStatus(ctx, ref)
		if err != nil {
			hlog.CtxWarnf(ctx, "[Gateway] 查询转账状态失败 ref=%s: %v", ref, err)
		}
		switch status {
		case TransferConfirmed:
			return nil
		case TransferFailed:
			return fmt.Errorf("%w: %s", ErrTransferRejected, ref)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrTransferUnconfirmed, ref)
		case <-ticker.C:
		}
	}
}

func (c *ChainClient) QueryTransferStatus(ctx context.Context, reference string) (TransferStatus, error) {
	res, err := c.http.call(ctx, "query_transfer", consts.MethodGet, "/v1/transfers/"+url.PathEscape(reference), nil)
	if err != nil {
		return TransferPending, err
	}
	switch s := TransferStatus(res.Get("status").String()); s {
	case TransferPending, TransferConfirmed, TransferFailed:
		return s, nil
	default:
		return TransferPending, fmt.Errorf("%w: unknown status %q", ErrBadResponse, s)
	}
}

func (c *ChainClient) DeployToken(ctx context.Context, p DeployParams) (*DeployReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()
	res, err := c.http.call(ctx, "deploy_token", consts.MethodPost, "/v1/tokens", p)
	if err != nil {
		return nil, err
	}
	r := &DeployReceipt{
		Reference:    res.Get("reference").String(),
		TokenAddress: res.Get("token_address").String(),
		TxHash:       res.Get("tx_hash").String(),
	}
	if r.TokenAddress == "" {
		return nil, fmt.Errorf("%w: missing token_address", ErrBadResponse)
	}
	return r, nil
}
