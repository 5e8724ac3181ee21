package optimize

import (
	"fmt"
	"math"

	"github.com/icodeforyou/solarplant-dispatch/config"
	"github.com/icodeforyou/solarplant-dispatch/hours"
)

type Tariff struct {
	ImportCost            float64
	ExportRevenue         float64
	DemandCharge          float64
	DemandResponseRevenue float64
	DemandWindow          hours.Window
	ResponseWindow        hours.Window
}

func NewTariff(c config.AppConfigTariff) (Tariff, error) {
	prices := []struct {
		field string
		value float64
	}{
		{"tariff.import_cost", c.ImportCost},
		{"tariff.export_revenue", c.ExportRevenue},
		{"tariff.demand_charge", c.DemandCharge},
		{"tariff.demand_response_revenue", c.DemandResponseRevenue},
	}
	for _, p := range prices {
		if math.IsNaN(p.value) || math.IsInf(p.value, 0) {
			return Tariff{}, &ConfigError{Field: p.field, Reason: "must be a finite number"}
		}
	}
	if c.DemandCharge < 0 {
		return Tariff{}, &ConfigError{Field: "tariff.demand_charge", Reason: "must not be negative"}
	}

	demand, err := hours.ParseWindow(c.DemandChargeStart, c.DemandChargeEnd)
	if err != nil {
		return Tariff{}, &ConfigError{Field: "tariff.demand_charge_start/end", Err: err}
	}
	response, err := hours.ParseWindow(c.DemandResponseStart, c.DemandResponseEnd)
	if err != nil {
		return Tariff{}, &ConfigError{Field: "tariff.demand_response_start/end", Err: err}
	}

	return Tariff{
		ImportCost:            c.ImportCost,
		ExportRevenue:         c.ExportRevenue,
		DemandCharge:          c.DemandCharge,
		DemandResponseRevenue: c.DemandResponseRevenue,
		DemandWindow:          demand,
		ResponseWindow:        response,
	}, nil
}

// ExportPrice stacks the demand response bonus on top of the base export revenue.
func (t Tariff) ExportPrice(inResponseWindow bool) float64 {
	if inResponseWindow {
		return t.ExportRevenue + t.DemandResponseRevenue
	}
	return t.ExportRevenue
}

func (t Tariff) ExportPrices(w Windows) []float64 {
	out := make([]float64, len(w.DemandResponse))
	for i, in := range w.DemandResponse {
		out[i] = t.ExportPrice(in)
	}
	return out
}

// CheckRelaxation verifies that importing and exporting in the same timestep can never
// pay off, which is what makes the relaxed split formulation exact.
func (t Tariff) CheckRelaxation(w Windows) error {
	for i, p := range t.ExportPrices(w) {
		if p > t.ImportCost {
			return &ConfigError{
				Field:  "optimizer.formulation",
				Reason: fmt.Sprintf("relaxed split is not exact, export price %g exceeds import cost %g at step %d", p, t.ImportCost, i),
			}
		}
	}
	return nil
}
