package balances

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

func TestTransferable(t *testing.T) {
	keepAlive := models.TransferContext{KeepAlive: true}
	transferAll := models.TransferContext{}

	tests := []struct {
		name     string
		totals   *AccountTotals
		minimum  int64
		tc       models.TransferContext
		wantFree int64
	}{
		{"plain", &AccountTotals{Free: amount(1000)}, 0, keepAlive, 1000},
		{"keep alive reserves minimum", &AccountTotals{Free: amount(1000)}, 100, keepAlive, 900},
		{"transfer all", &AccountTotals{Free: amount(1000)}, 100, transferAll, 1000},
		{"frozen above minimum", &AccountTotals{Free: amount(1000), Frozen: amount(400)}, 100, keepAlive, 600},
		{"reserved covers frozen", &AccountTotals{Free: amount(1000), Reserved: amount(500), Frozen: amount(400)}, 100, keepAlive, 900},
		{"reserved covers frozen, transfer all", &AccountTotals{Free: amount(1000), Reserved: amount(500), Frozen: amount(400)}, 100, transferAll, 1000},
		{"saturates at zero", &AccountTotals{Free: amount(50)}, 100, keepAlive, 0},
		{"nil fields", &AccountTotals{}, 0, keepAlive, 0},
		{"nil totals", nil, 100, keepAlive, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Transferable(tt.totals, amount(tt.minimum), tt.tc)
			assert.Equal(t, big.NewInt(tt.wantFree).String(), got.String())
		})
	}
}

func TestTransferableNeverExceedsTotal(t *testing.T) {
	keepAlive := models.TransferContext{KeepAlive: true}
	for free := int64(100); free <= 1000; free += 150 {
		for reserved := int64(0); reserved <= 300; reserved += 100 {
			for frozen := int64(0); frozen <= 600; frozen += 200 {
				totals := &AccountTotals{Free: amount(free), Reserved: amount(reserved), Frozen: amount(frozen)}
				minimum := amount(50)

				got := Transferable(totals, minimum, keepAlive)
				again := Transferable(totals, minimum, keepAlive)
				assert.Equal(t, got.String(), again.String())
				assert.GreaterOrEqual(t, got.Sign(), 0)

				withMin := new(big.Int).Add(got, minimum)
				assert.LessOrEqual(t, withMin.Cmp(Total(totals)), 0, "free=%d reserved=%d frozen=%d", free, reserved, frozen)

				locked := SystemLocked(Total(totals), got, nil, nil)
				assert.GreaterOrEqual(t, locked.Sign(), 0)
			}
		}
	}
}

func TestTransferableDoesNotMutateInput(t *testing.T) {
	minimum := amount(100)
	totals := &AccountTotals{Free: amount(1000), Frozen: amount(10)}
	Transferable(totals, minimum, models.TransferContext{KeepAlive: true})
	assert.Equal(t, "100", minimum.String())
	assert.Equal(t, "1000", totals.Free.String())
	assert.Equal(t, "10", totals.Frozen.String())
}

func TestSystemLocked(t *testing.T) {
	locked := SystemLocked(amount(1000), amount(700), PoolLocked(&PoolMembership{Points: amount(50), Unbonding: amount(25)}), amount(5))
	assert.Equal(t, "380", locked.String())
	assert.Equal(t, "0", SystemLocked(amount(10), amount(20), nil, nil).String())
}

func TestTokenAmounts(t *testing.T) {
	free, locked := tokenAmounts(&TokenAccount{Free: amount(100), Reserved: amount(20), Frozen: amount(30)})
	assert.Equal(t, "70", free.String())
	assert.Equal(t, "50", locked.String())

	free, locked = tokenAmounts(&TokenAccount{Free: amount(100), IsFrozen: true})
	assert.Equal(t, "0", free.String())
	assert.Equal(t, "100", locked.String())

	free, locked = tokenAmounts(nil)
	assert.Equal(t, "0", free.String())
	assert.Equal(t, "0", locked.String())
}
