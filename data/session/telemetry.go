package session

import (
	"context"

	"github.com/shirou/gopsutil/v3/host"

	"go.viam.com/tinyyolo/logging"
)

// Thermal states, from coolest to hottest.
const (
	ThermalNominal  = "nominal"
	ThermalFair     = "fair"
	ThermalSerious  = "serious"
	ThermalCritical = "critical"
	ThermalUnknown  = "unknown"
)

// BatteryUnknown is recorded when the host exposes no battery level.
const BatteryUnknown = -1.0

// ThermalState buckets the hottest sensor reading in degrees Celsius.
func ThermalState(celsius float64) string {
	switch {
	case celsius < 60:
		return ThermalNominal
	case celsius < 75:
		return ThermalFair
	case celsius < 90:
		return ThermalSerious
	default:
		return ThermalCritical
	}
}

// readTemperatures is swapped out in tests.
var readTemperatures = host.SensorsTemperaturesWithContext

// SampleTelemetry reads the host temperature sensors. Battery level is not
// available through the sensor API and is always BatteryUnknown.
func SampleTelemetry(ctx context.Context, logger logging.Logger) Telemetry {
	tel := Telemetry{Thermal: ThermalUnknown, Battery: BatteryUnknown}
	// partial results come back alongside a warnings error
	temps, err := readTemperatures(ctx)
	if len(temps) == 0 && err != nil {
		logger.Debugw("no temperature sensors readable", "error", err)
	}
	hottest, found := 0.0, false
	for _, t := range temps {
		if !(t.Temperature > 0) {
			continue
		}
		if !found || t.Temperature > hottest {
			hottest, found = t.Temperature, true
		}
	}
	if found {
		tel.Thermal = ThermalState(hottest)
	}
	return tel
}
