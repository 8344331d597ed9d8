package model

import "github.com/shopspring/decimal"

// Round2 округляет денежную сумму до двух знаков после запятой.
// Все комиссионные расчёты в системе используют именно это округление.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
