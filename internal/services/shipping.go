package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
)

type shippingRate struct {
	standard decimal.Decimal
	express  decimal.Decimal
}

var (
	domesticRate = shippingRate{standard: decimal.NewFromInt(3000), express: decimal.NewFromInt(5000)}
	africaRate   = shippingRate{standard: decimal.NewFromInt(8000), express: decimal.NewFromInt(12000)}
	worldRate    = shippingRate{standard: decimal.NewFromInt(20000), express: decimal.NewFromInt(35000)}

	africaZone = map[string]struct{}{
		"GH": {}, "KE": {}, "ZA": {}, "EG": {}, "MA": {}, "CI": {}, "SN": {}, "CM": {}, "UG": {},
		"TZ": {}, "RW": {}, "ET": {}, "BJ": {}, "TG": {}, "NE": {}, "BF": {}, "ML": {}, "ZM": {},
		"ZW": {}, "BW": {}, "NA": {}, "AO": {}, "DZ": {}, "TN": {}, "LR": {}, "SL": {}, "GM": {},
	}
)

// ShippingZone returns 1 for Nigeria, 2 for the African zone and 3 for everywhere else.
func ShippingZone(country string) int {
	code := strings.ToUpper(strings.TrimSpace(country))
	if code == "NG" {
		return 1
	}
	if _, ok := africaZone[code]; ok {
		return 2
	}
	return 3
}

// CalculateShippingCost returns the flat NGN fee for the destination zone and method.
// Weight is accepted for interface stability and does not affect the fee.
func CalculateShippingCost(country string, weightGrams int, method domain.ShippingMethod) (decimal.Decimal, error) {
	_ = weightGrams

	rate := worldRate
	switch ShippingZone(country) {
	case 1:
		rate = domesticRate
	case 2:
		rate = africaRate
	}

	switch domain.ShippingMethod(strings.ToLower(strings.TrimSpace(string(method)))) {
	case "", domain.ShippingStandard:
		return rate.standard, nil
	case domain.ShippingExpress:
		return rate.express, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrShippingUnknownMethod, method)
	}
}
