package payments

import (
	"fmt"

	"github.com/brunopacheco/pixgate-backend/pkg/enums"
	pkgerrors "github.com/brunopacheco/pixgate-backend/pkg/errors"
)

type planPrice struct {
	Standard int
	Vip      int
}

// Charge amounts in centavos. Prices are fixed server-side; the client never
// supplies an amount.
var priceTable = map[enums.PlanType]planPrice{
	enums.PlanTypeMonthly:   {Standard: 6890, Vip: 9890},
	enums.PlanTypeQuarterly: {Standard: 17890, Vip: 24890},
	enums.PlanTypeYearly:    {Standard: 59900, Vip: 79900},
}

// PriceFor resolves the charge amount in centavos for a plan and tier.
func PriceFor(plan enums.PlanType, isVip bool) (int, error) {
	price, ok := priceTable[plan]
	if !ok {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown plan type %q", plan))
	}
	if isVip {
		return price.Vip, nil
	}
	return price.Standard, nil
}
