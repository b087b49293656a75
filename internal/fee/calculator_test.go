package fee

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		policy    Policy
		wantFee   string
		wantFinal string
	}{
		{
			name:      "No fee",
			requested: "100.00",
			policy:    Policy{Type: TypeNone},
			wantFee:   "0",
			wantFinal: "100",
		},
		{
			name:      "Fixed fee",
			requested: "100.00",
			policy:    Policy{Type: TypeFixed, Fixed: dec("1.50")},
			wantFee:   "1.5",
			wantFinal: "101.5",
		},
		{
			name:      "Three percent of one hundred",
			requested: "100.00",
			policy:    Policy{Type: TypePercentage, Percentage: dec("3")},
			wantFee:   "3",
			wantFinal: "103",
		},
		{
			name:      "Percentage rounds half up",
			requested: "10.05",
			policy:    Policy{Type: TypePercentage, Percentage: dec("2.5")},
			wantFee:   "0.25",
			wantFinal: "10.3",
		},
		{
			name:      "Percentage plus fixed",
			requested: "50",
			policy:    Policy{Type: TypePercentagePlusFixed, Percentage: dec("2.9"), Fixed: dec("0.30")},
			wantFee:   "1.75",
			wantFinal: "51.75",
		},
		{
			name:      "Zero amount carries no fee",
			requested: "0",
			policy:    Policy{Type: TypePercentagePlusFixed, Percentage: dec("5"), Fixed: dec("1")},
			wantFee:   "0",
			wantFinal: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(dec(tt.requested), tt.policy)
			require.NoError(t, err)
			assert.True(t, got.FeeAmount.Equal(dec(tt.wantFee)), "fee = %s, want %s", got.FeeAmount, tt.wantFee)
			assert.True(t, got.FinalAmount.Equal(dec(tt.wantFinal)), "final = %s, want %s", got.FinalAmount, tt.wantFinal)
			assert.Equal(t, tt.policy.Type, got.FeeType)
		})
	}
}

func TestComputeInvariantAcrossPolicies(t *testing.T) {
	policies := []Policy{
		{Type: TypeNone},
		{Type: TypeFixed, Fixed: dec("0.99")},
		{Type: TypeFixed, Fixed: decimal.Zero},
		{Type: TypePercentage, Percentage: dec("0.5")},
		{Type: TypePercentage, Percentage: dec("100")},
		{Type: TypePercentagePlusFixed, Percentage: dec("3.3"), Fixed: dec("0.01")},
	}
	amounts := []string{"0", "0.01", "0.99", "1", "12.345", "100", "999999.99"}

	for _, p := range policies {
		for _, a := range amounts {
			requested := dec(a)
			got, err := Compute(requested, p)
			require.NoError(t, err)
			assert.False(t, got.FeeAmount.IsNegative(), "policy %s amount %s: negative fee", p.Type, a)
			assert.True(t, got.FinalAmount.Equal(requested.Add(got.FeeAmount)),
				"policy %s amount %s: final %s != requested + fee %s", p.Type, a, got.FinalAmount, got.FeeAmount)
			assert.True(t, got.FinalAmount.GreaterThanOrEqual(requested))
		}
	}
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{name: "None", policy: Policy{Type: TypeNone}},
		{name: "Missing type", policy: Policy{}, wantErr: true},
		{name: "Unknown type", policy: Policy{Type: "tiered"}, wantErr: true},
		{name: "Negative fixed", policy: Policy{Type: TypeFixed, Fixed: dec("-1")}, wantErr: true},
		{name: "Negative percentage", policy: Policy{Type: TypePercentage, Percentage: dec("-0.1")}, wantErr: true},
		{name: "Percentage above hundred", policy: Policy{Type: TypePercentage, Percentage: dec("100.01")}, wantErr: true},
		{name: "Negative fixed part", policy: Policy{Type: TypePercentagePlusFixed, Percentage: dec("1"), Fixed: dec("-2")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
