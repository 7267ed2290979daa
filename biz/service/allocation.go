package service

import (
	"github.com/shopspring/decimal"

	"github.com/gogogo1024/custody-ledger/biz/errno"
	"github.com/gogogo1024/custody-ledger/biz/model"
)

const totalBasisPoints = 10000

var (
	hundred          = decimal.NewFromInt(100)
	bpsDivisor       = decimal.NewFromInt(totalBasisPoints)
	percentTolerance = decimal.New(1, -3)
)

// ValidateShares 百分比在 [0,100] 且合计 100（允许 0.001 的误差）
func ValidateShares(shares []model.AllocationShare) error {
	if len(shares) == 0 {
		return errno.ErrInvalidAllocation.WithMsg("at least one allocation required")
	}
	sum := decimal.Zero
	for _, sh := range shares {
		if !sh.Category.Valid() {
			return errno.ErrInvalidAllocation.WithMsg("unknown allocation category %q", sh.Category)
		}
		if sh.Percent.IsNegative() || sh.Percent.GreaterThan(hundred) {
			return errno.ErrInvalidAllocation.WithMsg("%s: percent %s out of range", sh.Category, sh.Percent)
		}
		sum = sum.Add(sh.Percent)
	}
	if sum.Sub(hundred).Abs().GreaterThan(percentTolerance) {
		return errno.ErrInvalidAllocation.WithMsg("allocations add up to %s%%, want 100%%", sum)
	}
	return nil
}

// SplitSupply 按比例拆分总量（最小单位的整数）。
// 百分比先换算成基点，舍入误差归到占比最大的一项；数量向下取整，余数同样归到该项，
// 因此基点之和恒为 10000，数量之和恒等于 total。
func SplitSupply(total decimal.Decimal, shares []model.AllocationShare) ([]model.Allocation, error) {
	if err := ValidateShares(shares); err != nil {
		return nil, err
	}
	if !total.IsPositive() || !total.IsInteger() {
		return nil, errno.ErrInvalidAllocation.WithMsg("total %s must be a positive integer", total)
	}

	largest := 0
	bps := make([]int64, len(shares))
	var sumBps int64
	for i, sh := range shares {
		bps[i] = sh.Percent.Mul(hundred).Round(0).IntPart()
		sumBps += bps[i]
		if sh.Percent.GreaterThan(shares[largest].Percent) {
			largest = i
		}
	}
	bps[largest] += totalBasisPoints - sumBps
	if bps[largest] < 0 {
		return nil, errno.ErrInvalidAllocation.WithMsg("basis point correction underflow")
	}

	out := make([]model.Allocation, len(shares))
	sumAmount := decimal.Zero
	for i, sh := range shares {
		amount, _ := total.Mul(decimal.NewFromInt(bps[i])).QuoRem(bpsDivisor, 0)
		sumAmount = sumAmount.Add(amount)
		out[i] = model.Allocation{
			Category:     sh.Category,
			Label:        sh.Label,
			Percent:      sh.Percent,
			BasisPoints:  bps[i],
			Amount:       amount,
			TargetWallet: sh.TargetWallet,
		}
	}
	out[largest].Amount = out[largest].Amount.Add(total.Sub(sumAmount))
	return out, nil
}
