package service_test

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogogo1024/custody-ledger/biz/errno"
	"github.com/gogogo1024/custody-ledger/biz/model"
	"github.com/gogogo1024/custody-ledger/biz/service"
)

func share(c model.AllocationCategory, pct string) model.AllocationShare {
	return model.AllocationShare{Category: c, Percent: dec(pct)}
}

func TestSplitSupplyThirds(t *testing.T) {
	shares := []model.AllocationShare{
		share(model.AllocCreator, "33.33"),
		share(model.AllocCommunity, "33.33"),
		share(model.AllocLiquidity, "33.34"),
	}
	out, err := service.SplitSupply(dec("1000000"), shares)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, int64(3333), out[0].BasisPoints)
	assert.Equal(t, int64(3334), out[2].BasisPoints)
	assertDec(t, "333300", out[0].Amount)
	assertDec(t, "333300", out[1].Amount)
	assertDec(t, "333400", out[2].Amount)
}

func TestSplitSupplyAbsorbsRoundingIntoLargest(t *testing.T) {
	// 33.333 + 33.333 + 33.334 -> 3333 + 3333 + 3333 基点，差额 1 归到最大项
	shares := []model.AllocationShare{
		share(model.AllocCreator, "33.333"),
		share(model.AllocTeam, "33.334"),
		share(model.AllocCommunity, "33.333"),
	}
	out, err := service.SplitSupply(dec("7"), shares)
	require.NoError(t, err)
	assert.Equal(t, int64(3334), out[1].BasisPoints)
	sum := decimal.Zero
	for _, a := range out {
		sum = sum.Add(a.Amount)
		assert.True(t, a.Amount.IsInteger())
	}
	assertDec(t, "7", sum)
	assertDec(t, "3", out[1].Amount)
}

func TestSplitSupplyRejects(t *testing.T) {
	cases := map[string][]model.AllocationShare{
		"empty":        nil,
		"under 100":    {share(model.AllocCreator, "60"), share(model.AllocTeam, "39")},
		"over 100":     {share(model.AllocCreator, "60"), share(model.AllocTeam, "40.01")},
		"negative":     {share(model.AllocCreator, "110"), share(model.AllocTeam, "-10")},
		"bad category": {{Category: "WHALES", Percent: dec("100")}},
	}
	for name, shares := range cases {
		_, err := service.SplitSupply(dec("1000"), shares)
		assert.ErrorIs(t, err, errno.ErrInvalidAllocation, name)
	}

	_, err := service.SplitSupply(dec("10.5"), []model.AllocationShare{share(model.AllocCreator, "100")})
	assert.ErrorIs(t, err, errno.ErrInvalidAllocation)

	// 合计误差 0.001 以内可以接受
	_, err = service.SplitSupply(dec("1000"), []model.AllocationShare{share(model.AllocCreator, "50.0005"), share(model.AllocTeam, "50")})
	assert.NoError(t, err)
}

func TestSplitSupplyConservesTotal(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	categories := []model.AllocationCategory{
		model.AllocCreator, model.AllocTeam, model.AllocTreasury, model.AllocCommunity,
		model.AllocLiquidity, model.AllocAdvisors, model.AllocMarketing, model.AllocAirdrop,
	}
	for round := 0; round < 500; round++ {
		n := 1 + rng.Intn(len(categories))
		// 随机切分 100000 个千分点
		remaining := int64(100000)
		shares := make([]model.AllocationShare, n)
		for i := 0; i < n; i++ {
			v := remaining
			if i < n-1 {
				v = rng.Int63n(remaining + 1)
			}
			remaining -= v
			shares[i] = model.AllocationShare{Category: categories[i], Percent: decimal.New(v, -3)}
		}
		total := decimal.NewFromInt(1 + rng.Int63n(1_000_000_000)).Shift(int32(rng.Intn(19)))

		out, err := service.SplitSupply(total, shares)
		require.NoError(t, err, "shares=%v", shares)
		sumAmount := decimal.Zero
		var sumBps int64
		for _, a := range out {
			assert.False(t, a.Amount.IsNegative())
			assert.True(t, a.Amount.IsInteger())
			sumAmount = sumAmount.Add(a.Amount)
			sumBps += a.BasisPoints
		}
		require.True(t, sumAmount.Equal(total), "round %d: %s != %s", round, sumAmount, total)
		require.Equal(t, int64(10000), sumBps)
	}
}
