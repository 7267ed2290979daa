package model

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// CauseType 流水原因，封闭枚举
type CauseType string

const (
	CauseAdminAdjustCredit        CauseType = "ADMIN_ADJUST_CREDIT"
	CauseAdminAdjustDebit         CauseType = "ADMIN_ADJUST_DEBIT"
	CauseBankDepositCredit        CauseType = "BANK_DEPOSIT_CREDIT"
	CauseOnchainDepositCredit     CauseType = "ONCHAIN_DEPOSIT_CREDIT"
	CauseOnchainWithdrawDebit     CauseType = "ONCHAIN_WITHDRAW_DEBIT"
	CauseInternalTransferDebit    CauseType = "INTERNAL_TRANSFER_DEBIT"
	CauseInternalTransferCredit   CauseType = "INTERNAL_TRANSFER_CREDIT"
	CauseExternalTransferDebit    CauseType = "EXTERNAL_TRANSFER_DEBIT"
	CauseBuyWithFiatBalance       CauseType = "BUY_WITH_FIAT_BALANCE"
	CauseSellDebit                CauseType = "SELL_DEBIT"
	CauseSellCredit               CauseType = "SELL_CREDIT"
	CauseDeploymentFee            CauseType = "DEPLOYMENT_FEE"
	CauseDeploymentRefund         CauseType = "DEPLOYMENT_REFUND"
	CauseWithdrawalRequestDebit   CauseType = "WITHDRAWAL_REQUEST_DEBIT"
	CauseWithdrawalRejectedCredit CauseType = "WITHDRAWAL_REJECTED_CREDIT"
	CausePartnerDepositCredit     CauseType = "PARTNER_DEPOSIT_CREDIT"
)

// Direction 流水方向约束
type Direction int

const (
	DirectionAny Direction = iota
	DirectionCredit
	DirectionDebit
)

// Cause 带强类型元数据的流水原因。
// isCause 未导出，保证只有本包内定义的原因可以写入账本。
type Cause interface {
	Type() CauseType
	Direction() Direction
	isCause()
}

// AdminAdjust 管理员手工调账
type AdminAdjust struct {
	Credit  bool   `json:"credit"`
	AdminID string `json:"admin_id"`
	Reason  string `json:"reason"`
}

func (c AdminAdjust) Type() CauseType {
	if c.Credit {
		return CauseAdminAdjustCredit
	}
	return CauseAdminAdjustDebit
}

func (c AdminAdjust) Direction() Direction {
	if c.Credit {
		return DirectionCredit
	}
	return DirectionDebit
}

// BankDepositCredit 银行入金审核通过后入账
type BankDepositCredit struct {
	DepositRequestID string          `json:"deposit_request_id"`
	FiatAmount       decimal.Decimal `json:"fiat_amount"`
	FiatCurrency     string          `json:"fiat_currency"`
	PriceUSD         decimal.Decimal `json:"price_usd"`
}

func (BankDepositCredit) Type() CauseType      { return CauseBankDepositCredit }
func (BankDepositCredit) Direction() Direction { return DirectionCredit }

type OnchainDeposit struct {
	TxHash      string `json:"tx_hash"`
	FromAddress string `json:"from_address"`
}

func (OnchainDeposit) Type() CauseType      { return CauseOnchainDepositCredit }
func (OnchainDeposit) Direction() Direction { return DirectionCredit }

type OnchainWithdrawal struct {
	TxHash    string `json:"tx_hash"`
	ToAddress string `json:"to_address"`
}

func (OnchainWithdrawal) Type() CauseType      { return CauseOnchainWithdrawDebit }
func (OnchainWithdrawal) Direction() Direction { return DirectionDebit }

// InternalTransfer 站内转账，转出方与转入方各一条
type InternalTransfer struct {
	Incoming   bool   `json:"incoming"`
	TransferID string `json:"transfer_id"`
	PeerUserID string `json:"peer_user_id"`
	Note       string `json:"note,omitempty"`
}

func (c InternalTransfer) Type() CauseType {
	if c.Incoming {
		return CauseInternalTransferCredit
	}
	return CauseInternalTransferDebit
}

func (c InternalTransfer) Direction() Direction {
	if c.Incoming {
		return DirectionCredit
	}
	return DirectionDebit
}

// ExternalTransferDebit 兑换码被合作方成功领取时的唯一扣款
type ExternalTransferDebit struct {
	TransferID     string          `json:"transfer_id"`
	Code           string          `json:"code"`
	ExternalRef    string          `json:"external_ref"`
	TargetPlatform string          `json:"target_platform"`
	AmountFiat     decimal.Decimal `json:"amount_fiat"`
	Rate           decimal.Decimal `json:"rate"`
}

func (ExternalTransferDebit) Type() CauseType      { return CauseExternalTransferDebit }
func (ExternalTransferDebit) Direction() Direction { return DirectionDebit }

// BuyWithFiat 用法币余额购买代币，法币扣款与代币入账共用该原因
type BuyWithFiat struct {
	OrderID       string          `json:"order_id"`
	PriceUSD      decimal.Decimal `json:"price_usd"`
	CounterAmount decimal.Decimal `json:"counter_amount"`
}

func (BuyWithFiat) Type() CauseType      { return CauseBuyWithFiatBalance }
func (BuyWithFiat) Direction() Direction { return DirectionAny }

// Sell 卖出代币到法币余额；Proceeds 为法币入账一侧
type Sell struct {
	Proceeds      bool            `json:"proceeds"`
	OrderID       string          `json:"order_id"`
	PriceUSD      decimal.Decimal `json:"price_usd"`
	CounterAmount decimal.Decimal `json:"counter_amount"`
}

func (c Sell) Type() CauseType {
	if c.Proceeds {
		return CauseSellCredit
	}
	return CauseSellDebit
}

func (c Sell) Direction() Direction {
	if c.Proceeds {
		return DirectionCredit
	}
	return DirectionDebit
}

type DeploymentFee struct {
	LaunchID        string          `json:"launch_id"`
	Tier            string          `json:"tier"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	LiquidityAmount decimal.Decimal `json:"liquidity_amount"`
}

func (DeploymentFee) Type() CauseType      { return CauseDeploymentFee }
func (DeploymentFee) Direction() Direction { return DirectionDebit }

type DeploymentRefund struct {
	LaunchID string `json:"launch_id"`
	Reason   string `json:"reason"`
}

func (DeploymentRefund) Type() CauseType      { return CauseDeploymentRefund }
func (DeploymentRefund) Direction() Direction { return DirectionCredit }

type WithdrawalRequestDebit struct {
	WithdrawalID string `json:"withdrawal_id"`
	Method       string `json:"method"`
}

func (WithdrawalRequestDebit) Type() CauseType      { return CauseWithdrawalRequestDebit }
func (WithdrawalRequestDebit) Direction() Direction { return DirectionDebit }

type WithdrawalRejectedCredit struct {
	WithdrawalID string `json:"withdrawal_id"`
	AdminID      string `json:"admin_id"`
	Reason       string `json:"reason"`
}

func (WithdrawalRejectedCredit) Type() CauseType      { return CauseWithdrawalRejectedCredit }
func (WithdrawalRejectedCredit) Direction() Direction { return DirectionCredit }

// PartnerDeposit 合作方兑换码核销后的法币入账
type PartnerDeposit struct {
	PartnerRef string `json:"partner_ref"`
	Code       string `json:"code"`
}

func (PartnerDeposit) Type() CauseType      { return CausePartnerDepositCredit }
func (PartnerDeposit) Direction() Direction { return DirectionCredit }

func (AdminAdjust) isCause()              {}
func (BankDepositCredit) isCause()        {}
func (OnchainDeposit) isCause()           {}
func (OnchainWithdrawal) isCause()        {}
func (InternalTransfer) isCause()         {}
func (ExternalTransferDebit) isCause()    {}
func (BuyWithFiat) isCause()              {}
func (Sell) isCause()                     {}
func (DeploymentFee) isCause()            {}
func (DeploymentRefund) isCause()         {}
func (WithdrawalRequestDebit) isCause()   {}
func (WithdrawalRejectedCredit) isCause() {}
func (PartnerDeposit) isCause()           {}

// Allows 金额符号是否与原因方向一致，零金额一律拒绝
func Allows(c Cause, amount decimal.Decimal) bool {
	if amount.IsZero() {
		return false
	}
	switch c.Direction() {
	case DirectionCredit:
		return amount.IsPositive()
	case DirectionDebit:
		return amount.IsNegative()
	default:
		return true
	}
}

// DecodeCause 按流水原因还原强类型元数据
func DecodeCause(t CauseType, raw []byte) (Cause, error) {
	switch t {
	case CauseAdminAdjustCredit, CauseAdminAdjustDebit:
		v, err := decodeMeta[AdminAdjust](raw)
		v.Credit = t == CauseAdminAdjustCredit
		return v, err
	case CauseBankDepositCredit:
		return decodeMeta[BankDepositCredit](raw)
	case CauseOnchainDepositCredit:
		return decodeMeta[OnchainDeposit](raw)
	case CauseOnchainWithdrawDebit:
		return decodeMeta[OnchainWithdrawal](raw)
	case CauseInternalTransferDebit, CauseInternalTransferCredit:
		v, err := decodeMeta[InternalTransfer](raw)
		v.Incoming = t == CauseInternalTransferCredit
		return v, err
	case CauseExternalTransferDebit:
		return decodeMeta[ExternalTransferDebit](raw)
	case CauseBuyWithFiatBalance:
		return decodeMeta[BuyWithFiat](raw)
	case CauseSellDebit, CauseSellCredit:
		v, err := decodeMeta[Sell](raw)
		v.Proceeds = t == CauseSellCredit
		return v, err
	case CauseDeploymentFee:
		return decodeMeta[DeploymentFee](raw)
	case CauseDeploymentRefund:
		return decodeMeta[DeploymentRefund](raw)
	case CauseWithdrawalRequestDebit:
		return decodeMeta[WithdrawalRequestDebit](raw)
	case CauseWithdrawalRejectedCredit:
		return decodeMeta[WithdrawalRejectedCredit](raw)
	case CausePartnerDepositCredit:
		return decodeMeta[PartnerDeposit](raw)
	}
	return nil, fmt.Errorf("unknown cause type %q", t)
}

func decodeMeta[T Cause](raw []byte) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}
