// Package gateway 封装对外部系统的调用：托管签名服务（链上转账、发币）与合作方兑换接口。
// 服务层只依赖这里的接口，HTTP 实现见 chain_client.go / partner_client.go。
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

type TransferStatus string

const (
	TransferPending   TransferStatus = "PENDING"
	TransferConfirmed TransferStatus = "CONFIRMED"
	TransferFailed    TransferStatus = "FAILED"
)

var (
	ErrTransferRejected    = errors.New("gateway: transfer rejected")
	ErrTransferUnconfirmed = errors.New("gateway: transfer not confirmed in time")
	ErrBadResponse         = errors.New("gateway: malformed response")
)

// TransferRequest Reference 作为幂等键，签名服务对同一 Reference 只会出一笔交易
type TransferRequest struct {
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
	Asset       string          `json:"asset"`
	Reference   string          `json:"reference"`
	Memo        string          `json:"memo,omitempty"`
}

type TransferReceipt struct {
	Reference string
	TxHash    string
}

type PartnerCredit struct {
	Amount    decimal.Decimal
	Reference string
}

type DeployAllocation struct {
	Category string          `json:"category"`
	Wallet   string          `json:"wallet,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
}

type DeployParams struct {
	LaunchID        string             `json:"launch_id"`
	Owner           string             `json:"owner"`
	Name            string             `json:"name"`
	Symbol          string             `json:"symbol"`
	Decimals        int32              `json:"decimals"`
	TotalSupply     decimal.Decimal    `json:"total_supply"`
	Allocations     []DeployAllocation `json:"allocations"`
	LiquidityAmount decimal.Decimal    `json:"liquidity_amount"`
}

type DeployReceipt struct {
	Reference    string
	TokenAddress string
	TxHash       string
}

// ValueTransferer 把平台代币转出到外部平台
type ValueTransferer interface {
	SubmitValueTransfer(ctx context.Context, req TransferRequest) (*TransferReceipt, error)
	QueryTransferStatus(ctx context.Context, reference string) (TransferStatus, error)
}

// PartnerRedeemer 合作方兑换码核销，成功即已销毁
type PartnerRedeemer interface {
	VerifyAndBurnCode(ctx context.Context, code string) (*PartnerCredit, error)
}

type TokenDeployer interface {
	DeployToken(ctx context.Context, p DeployParams) (*DeployReceipt, error)
}
