package optimize

import (
	"math"

	"github.com/icodeforyou/solarplant-dispatch/config"
)

type Battery struct {
	config.AppConfigBatterySpec
}

func NewBattery(spec config.AppConfigBatterySpec) (Battery, error) {
	checks := []struct {
		field string
		value float64
	}{
		{"battery_spec.capacity", spec.Capacity},
		{"battery_spec.max_power", spec.MaxPower},
		{"battery_spec.charge_efficiency", spec.ChargeEfficiency},
		{"battery_spec.discharge_efficiency", spec.DischargeEfficiency},
		{"battery_spec.timestep_hours", spec.TimestepHours},
	}
	for _, c := range checks {
		if math.IsNaN(c.value) || math.IsInf(c.value, 0) || c.value <= 0 {
			return Battery{}, &ConfigError{Field: c.field, Reason: "must be a positive number"}
		}
	}
	if spec.ChargeEfficiency > 1 {
		return Battery{}, &ConfigError{Field: "battery_spec.charge_efficiency", Reason: "must not exceed 1"}
	}
	if spec.DischargeEfficiency > 1 {
		return Battery{}, &ConfigError{Field: "battery_spec.discharge_efficiency", Reason: "must not exceed 1"}
	}
	return Battery{AppConfigBatterySpec: spec}, nil
}

// Returns the energy stored in kWh per kW charged during one timestep
func (b Battery) ChargeGain() float64 {
	return b.ChargeEfficiency * b.TimestepHours
}

// Returns the energy drawn from storage in kWh per kW discharged during one timestep
func (b Battery) DischargeDrain() float64 {
	return b.TimestepHours / b.DischargeEfficiency
}

// Returns the highest charge power for a timestep, the battery only charges from PV
func (b Battery) ChargeLimit(pv float64) float64 {
	return min(b.MaxPower, max(pv, 0))
}
