package services

import (
	domain "github.com/findmytreasure/api/internal/domain"
)

// defaultLabourHours is assumed when the reporter gives no effort estimate.
const defaultLabourHours = 2

// EstimateInput carries the variable factors of a recovery cost estimate.
type EstimateInput struct {
	TravelDistanceKm float64
	LabourHours      float64
	ItemValue        float64
}

// Estimate derives the recovery cost breakdown from the configured rates.
// The computation is deterministic: same rates and input, same breakdown.
// A non-positive item value yields a zero finder's fee.
func Estimate(rates domain.PricingRates, input EstimateInput) domain.CostEstimate {
	distance := input.TravelDistanceKm
	if distance < 0 {
		distance = 0
	}
	hours := input.LabourHours
	if hours <= 0 {
		hours = defaultLabourHours
	}

	travelCost := distance * rates.TravelRatePerKm
	labourCost := hours * rates.BaseRatePerHour

	var findersFee float64
	if input.ItemValue > 0 {
		findersFee = input.ItemValue * rates.FindersFeePct / 100
	}

	subtotal := travelCost + labourCost + rates.EquipmentFee

	return domain.CostEstimate{
		TravelDistanceKm: distance,
		TravelCost:       travelCost,
		LabourHours:      hours,
		LabourCost:       labourCost,
		EquipmentFee:     rates.EquipmentFee,
		FindersFeePct:    rates.FindersFeePct,
		FindersFee:       findersFee,
		Subtotal:         subtotal,
		Total:            subtotal + findersFee,
	}
}
