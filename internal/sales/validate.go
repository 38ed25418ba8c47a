package sales

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// moneyPlaces is the precision of every stored amount.
const moneyPlaces = 2

// Column limits: unit prices are NUMERIC(12,2), subtotals and totals NUMERIC(14,2).
var (
	maxUnitPrice = decimal.RequireFromString("9999999999.99")
	maxAmount    = decimal.RequireFromString("999999999999.99")
)

type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return &Validator{v: v}
}

// Checkout validates the request shape; the result is nil or an
// InvalidRequest *Error listing offending fields.
func (vh *Validator) Checkout(req CheckoutRequest) error {
	fields := map[string]string{}

	if err := vh.v.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return invalid("invalid checkout request", nil)
		}
		for _, fe := range verrs {
			fields[fieldPath(fe)] = fmt.Sprintf("failed on '%s'", fe.Tag())
		}
	}
	prices := make([]decimal.Decimal, len(req.Lines))
	for i, l := range req.Lines {
		prices[i] = l.UnitPrice
		switch {
		case !l.UnitPrice.Equal(l.UnitPrice.Round(moneyPlaces)):
			fields[fmt.Sprintf("lines[%d].unit_price", i)] = fmt.Sprintf("more than %d decimal places", moneyPlaces)
		case l.UnitPrice.GreaterThan(maxUnitPrice):
			fields[fmt.Sprintf("lines[%d].unit_price", i)] = "exceeds " + maxUnitPrice.String()
		}
	}
	if len(fields) == 0 {
		for k, v := range amountFields(req.Lines, prices) {
			fields[k] = v
		}
	}

	if len(fields) == 0 {
		return nil
	}
	if _, ok := fields["lines"]; ok && len(req.Lines) == 0 {
		return invalid("cart is empty", fields)
	}
	return invalid("invalid cart", fields)
}

// amountFields reports line subtotals and the cart total that would not fit
// their columns when req lines are priced at prices.
func amountFields(lines []CartLine, prices []decimal.Decimal) map[string]string {
	fields := map[string]string{}
	total := decimal.Zero
	for i, l := range lines {
		sub := prices[i].Mul(decimal.NewFromInt(int64(l.Quantity)))
		if sub.GreaterThan(maxAmount) {
			fields[fmt.Sprintf("lines[%d].subtotal", i)] = "exceeds " + maxAmount.String()
		}
		total = total.Add(sub)
	}
	if total.GreaterThan(maxAmount) {
		fields["total_amount"] = "exceeds " + maxAmount.String()
	}
	return fields
}

// fieldPath drops the root struct name: "CheckoutRequest.lines[0].quantity" -> "lines[0].quantity".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
