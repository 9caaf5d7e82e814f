package billing

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// Amounts travel as JSON numbers. They are converted to decimals before any
// arithmetic so that sums of cents do not drift.
var decimalCtx = apd.BaseContext.WithPrecision(34)

// Decimal is an exact decimal amount.
type Decimal struct {
	value apd.Decimal
}

// NewDecimal parses s as a decimal.
func NewDecimal(s string) (Decimal, error) {
	var d apd.Decimal
	if _, _, err := d.SetString(s); err != nil {
		return Decimal{}, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return Decimal{value: d}, nil
}

// DecimalFromFloat converts a wire amount using its shortest decimal form,
// so 0.1 becomes exactly 0.1.
func DecimalFromFloat(f float64) (Decimal, error) {
	var d apd.Decimal
	if _, err := d.SetFloat64(f); err != nil {
		return Decimal{}, fmt.Errorf("invalid amount %v: %w", f, err)
	}
	return Decimal{value: d}, nil
}

func (d Decimal) String() string {
	return d.value.Text('f')
}

// Cmp compares d and other.
func (d Decimal) Cmp(other Decimal) int {
	return d.value.Cmp(&other.value)
}

// Add returns the sum of d and other.
func (d Decimal) Add(other Decimal) (Decimal, error) {
	var result apd.Decimal
	if _, err := decimalCtx.Add(&result, &d.value, &other.value); err != nil {
		return Decimal{}, fmt.Errorf("add %s and %s: %w", d, other, err)
	}
	return Decimal{value: result}, nil
}

// Mul returns the product of d and other.
func (d Decimal) Mul(other Decimal) (Decimal, error) {
	var result apd.Decimal
	if _, err := decimalCtx.Mul(&result, &d.value, &other.value); err != nil {
		return Decimal{}, fmt.Errorf("multiply %s by %s: %w", d, other, err)
	}
	return Decimal{value: result}, nil
}

// Round returns d rounded half-up to the given number of fractional digits.
// It fails when the rounded value needs more digits than the context carries.
func (d Decimal) Round(places int32) (Decimal, error) {
	var result apd.Decimal
	if _, err := decimalCtx.Quantize(&result, &d.value, -places); err != nil {
		return Decimal{}, fmt.Errorf("round %s to %d places: %w", d, places, err)
	}
	return Decimal{value: result}, nil
}

// FormatAmount renders an amount with two decimals, thousands separators and
// the currency code, e.g. "1,234.50 USD". Amounts too large to render to the
// cent fall back to their float form.
// This is a PURE function.
func FormatAmount(amount float64, currency string) string {
	d, err := DecimalFromFloat(amount)
	if err == nil {
		d, err = d.Round(2)
	}
	if err != nil {
		return strings.TrimSpace(fmt.Sprintf("%v %s", amount, currency))
	}
	text := d.String()

	sign := ""
	if strings.HasPrefix(text, "-") {
		sign, text = "-", text[1:]
	}
	whole, frac, _ := strings.Cut(text, ".")

	out := sign + groupThousands(whole) + "." + frac
	if currency != "" {
		out += " " + currency
	}
	return out
}

// groupThousands adds comma separators to a string of digits.
func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	return groupThousands(digits[:len(digits)-3]) + "," + digits[len(digits)-3:]
}
