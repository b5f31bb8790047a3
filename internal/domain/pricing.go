package domain

// PricingRates holds the configured rate constants used to price a recovery.
type PricingRates struct {
	BaseRatePerHour float64
	TravelRatePerKm float64
	FindersFeePct   float64
	EquipmentFee    float64
}

// CostEstimate is the derived pricing breakdown for a job. It is folded into
// Job.EstimatedCost and Job.FindersFee at submission time and never persisted
// on its own.
type CostEstimate struct {
	TravelDistanceKm float64
	TravelCost       float64
	LabourHours      float64
	LabourCost       float64
	EquipmentFee     float64
	FindersFeePct    float64
	FindersFee       float64
	Subtotal         float64
	Total            float64
}
