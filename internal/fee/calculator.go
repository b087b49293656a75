// Package fee computes gateway fees for payment intents.
package fee

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeNone                Type = "none"
	TypeFixed               Type = "fixed"
	TypePercentage          Type = "percentage"
	TypePercentagePlusFixed Type = "percentage_plus_fixed"
)

// Scale is the number of decimal places fees are rounded to.
const Scale = 2

var hundred = decimal.NewFromInt(100)

// Policy is a gateway's fee configuration. Percentage is expressed in
// percent (3 means 3%).
type Policy struct {
	Type       Type            `mapstructure:"type" json:"type"`
	Percentage decimal.Decimal `mapstructure:"percentage" json:"percentage"`
	Fixed      decimal.Decimal `mapstructure:"fixed" json:"fixed"`
}

// Breakdown is the outcome of applying a policy to a requested amount.
type Breakdown struct {
	FeeAmount     decimal.Decimal `json:"fee_amount"`
	FinalAmount   decimal.Decimal `json:"final_amount"`
	FeeType       Type            `json:"fee_type"`
	FeePercentage decimal.Decimal `json:"fee_percentage"`
}

// Validate rejects policies that could produce a negative or nonsensical fee.
// It runs at configuration load so Compute never sees a bad policy.
func (p Policy) Validate() error {
	switch p.Type {
	case TypeNone:
		return nil
	case TypeFixed:
		if p.Fixed.IsNegative() {
			return fmt.Errorf("fixed fee must not be negative, got %s", p.Fixed)
		}
	case TypePercentage:
		if err := validatePercentage(p.Percentage); err != nil {
			return err
		}
	case TypePercentagePlusFixed:
		if err := validatePercentage(p.Percentage); err != nil {
			return err
		}
		if p.Fixed.IsNegative() {
			return fmt.Errorf("fixed fee must not be negative, got %s", p.Fixed)
		}
	case "":
		return fmt.Errorf("fee policy type is required")
	default:
		return fmt.Errorf("unknown fee policy type %q", p.Type)
	}
	return nil
}

func validatePercentage(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return fmt.Errorf("fee percentage must be within [0, 100], got %s", pct)
	}
	return nil
}

// Compute applies policy to requested. finalAmount is always requested + fee
// and the fee is never negative.
func Compute(requested decimal.Decimal, policy Policy) (Breakdown, error) {
	if err := policy.Validate(); err != nil {
		return Breakdown{}, err
	}

	feeAmount := decimal.Zero
	pct := decimal.Zero

	if requested.IsPositive() {
		switch policy.Type {
		case TypeFixed:
			feeAmount = policy.Fixed
		case TypePercentage:
			pct = policy.Percentage
			feeAmount = requested.Mul(pct).Div(hundred)
		case TypePercentagePlusFixed:
			pct = policy.Percentage
			feeAmount = requested.Mul(pct).Div(hundred).Add(policy.Fixed)
		}
	} else if policy.Type == TypePercentage || policy.Type == TypePercentagePlusFixed {
		pct = policy.Percentage
	}

	feeAmount = feeAmount.Round(Scale)
	if feeAmount.IsNegative() {
		feeAmount = decimal.Zero
	}

	return Breakdown{
		FeeAmount:     feeAmount,
		FinalAmount:   requested.Add(feeAmount),
		FeeType:       policy.Type,
		FeePercentage: pct,
	}, nil
}
