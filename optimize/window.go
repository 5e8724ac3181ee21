package optimize

import (
	"time"

	"github.com/icodeforyou/solarplant-dispatch/hours"
)

// Windows holds the per timestep membership of the two tariff windows.
type Windows struct {
	DemandCharge   []bool
	DemandResponse []bool
}

func Classify(times []time.Time, demand, response hours.Window) Windows {
	w := Windows{
		DemandCharge:   make([]bool, len(times)),
		DemandResponse: make([]bool, len(times)),
	}
	for i, t := range times {
		w.DemandCharge[i] = demand.Contains(t)
		w.DemandResponse[i] = response.Contains(t)
	}
	return w
}
