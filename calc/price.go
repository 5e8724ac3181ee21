package calc

func BuyPrice(kWh, price float64) float64 {
	return kWh * price
}

func SellPrice(kWh, price float64) float64 {
	return kWh * price
}

func DemandCharge(peakKW, rate float64) float64 {
	return peakKW * rate
}

// Breakdown splits the cost of a schedule into its tariff components.
type Breakdown struct {
	Import   float64 // Paid for imported energy
	Export   float64 // Earned for exported energy at the base rate
	Response float64 // Earned on top of the base rate inside the demand response window
	Demand   float64 // Paid for the peak import inside the demand charge window
}

// Add accounts one timestep where importKW and exportKW were held for hours.
func (b *Breakdown) Add(importKW, exportKW, hours, importCost, exportRevenue, responseBonus float64) {
	b.Import += BuyPrice(importKW*hours, importCost)
	b.Export += SellPrice(exportKW*hours, exportRevenue)
	b.Response += SellPrice(exportKW*hours, responseBonus)
}

func (b Breakdown) Total() float64 {
	return b.Import + b.Demand - b.Export - b.Response
}
