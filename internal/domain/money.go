package domain

import "github.com/shopspring/decimal"

// MoneyScale — количество знаков после запятой для денежных сумм.
const MoneyScale = 2

// RoundMoney округляет сумму до копеек по правилу half-up.
// decimal.Round округляет половину от нуля, для неотрицательных сумм это и есть half-up.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// Subtotal возвращает стоимость позиции: цена за единицу × количество.
func Subtotal(unitPrice decimal.Decimal, qty int64) decimal.Decimal {
	return RoundMoney(unitPrice.Mul(decimal.NewFromInt(qty)))
}

// ComputeDiscount считает скидку по купону. Процентная скидка округляется
// до копеек, фиксированная берётся как есть. Результат всегда в [0, total],
// поэтому итоговая сумма заказа не может стать отрицательной.
func ComputeDiscount(total decimal.Decimal, coupon Coupon) decimal.Decimal {
	var discount decimal.Decimal
	if coupon.IsPercentage {
		discount = total.Mul(coupon.DiscountValue).Div(decimal.NewFromInt(100))
	} else {
		discount = coupon.DiscountValue
	}
	discount = RoundMoney(discount)

	if discount.IsNegative() {
		return decimal.Zero
	}
	if discount.GreaterThan(total) {
		return RoundMoney(total)
	}
	return discount
}
