/**
 * @description
 * Money helpers shared by every layer of the ledger. Amounts are fixed-precision
 * decimals with two fraction digits, persisted as NUMERIC(20,2). Binary floating
 * point is never used for balances or transaction amounts.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Arbitrary-precision decimal arithmetic.
 */

package domain

import "github.com/shopspring/decimal"

// MoneyScale is the number of fraction digits every ledger amount carries.
const MoneyScale = 2

// ZeroAmount is the additive identity for ledger amounts.
var ZeroAmount = decimal.Zero

// ValidAmount reports whether amount is a well-formed ledger amount:
// strictly positive and representable at MoneyScale fraction digits.
// Non-canonical renderings of a representable value, e.g. 10.500, are valid.
func ValidAmount(amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	return amount.Equal(amount.Round(MoneyScale))
}

// NonNegativeAmount reports whether amount can be used as an opening balance.
func NonNegativeAmount(amount decimal.Decimal) bool {
	if amount.IsNegative() {
		return false
	}
	return amount.Equal(amount.Round(MoneyScale))
}
