package reading

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// DataError reports a payload whose shape could not be interpreted.
type DataError struct {
	Err error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("failed to parse device data: %v", e.Err)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// IsDataError reports whether err is or wraps a *DataError.
func IsDataError(err error) bool {
	var dataErr *DataError
	return errors.As(err, &dataErr)
}

// Combine builds a Reading from a profile payload and an optional live
// state-of-charge payload. A nil or null live payload, or an empty object,
// means no live data. It either returns a complete Reading or a *DataError.
func Combine(profile, live json.RawMessage) (*Reading, error) {
	var p profilePayload
	if err := decode(profile, &p); err != nil {
		return nil, &DataError{Err: fmt.Errorf("bike profile: %w", err)}
	}

	var l *livePayload
	if present(live) {
		l = new(livePayload)
		if err := decode(live, l); err != nil {
			return nil, &DataError{Err: fmt.Errorf("state of charge: %w", err)}
		}
	}

	r := fromProfile(orEmpty(orEmpty(p.Data).Attributes))
	applyLive(&r, l)
	return &r, nil
}

func decode(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// present reports whether a live payload carries anything. Null, false, 0,
// "", {} and [] all mean "no live data".
func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return true // let decoding report it
	}
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	}
	return true
}

func fromProfile(attrs BikeAttributes) Reading {
	battery := firstOrEmpty(attrs.Batteries)
	driveUnit := orEmpty(attrs.DriveUnit)
	connectedModule := orEmpty(attrs.ConnectedModule)
	remoteControl := orEmpty(attrs.RemoteControl)
	lock := orEmpty(driveUnit.Lock)
	light := orEmpty(driveUnit.BikeLight)
	cycles := orEmpty(battery.NumberOfFullChargeCycles)

	return Reading{
		Battery: Battery{
			LevelPercent:        battery.BatteryLevel,
			RemainingWh:         battery.RemainingEnergy,
			TotalCapacityWh:     battery.TotalEnergy,
			IsCharging:          battery.IsCharging,
			IsChargerConnected:  battery.IsChargerConnected,
			IsLightReserve:      battery.IsLightReserveReached,
			ChargeCyclesTotal:   cycles.Total,
			DeliveredLifetimeWh: battery.DeliveredWhOverLifetime,
			ProductName:         battery.ProductName,
			SoftwareVersion:     battery.SoftwareVersion,
		},
		Bike: Bike{
			Brand:          attrs.BrandName,
			TotalDistanceM: driveUnit.TotalDistanceTraveled,
			IsLocked:       lock.IsLocked,
			LockEnabled:    lock.IsEnabled,
			AlarmEnabled:   connectedModule.IsAlarmFeatureEnabled,
			LightOn:        light.IsSwitchedOn,
		},
		Components: Components{
			DriveUnit:       driveUnit.component(),
			Battery:         battery.component(),
			ConnectedModule: connectedModule.component(),
			RemoteControl:   remoteControl.component(),
		},
	}
}

// applyLive overlays live data. Profile values win for level and charging
// flags when known; range, rider energy and a known odometer always come from
// the live payload.
func applyLive(r *Reading, live *livePayload) {
	if live == nil {
		r.LiveDataAvailable = false
		r.LastUpdate = nil
		return
	}

	r.LiveDataAvailable = true
	r.LastUpdate = live.StateOfChargeLatestUpdate

	if r.Battery.LevelPercent == nil {
		r.Battery.LevelPercent = live.StateOfCharge
	}
	if r.Battery.IsCharging == nil {
		r.Battery.IsCharging = live.ChargingActive
	}
	if r.Battery.IsChargerConnected == nil {
		r.Battery.IsChargerConnected = live.ChargerConnected
	}

	r.Battery.ReachableRangeKm = live.ReachableRange
	r.Battery.RemainingEnergyRiderWh = live.RemainingEnergyForRider

	if live.Odometer != nil {
		r.Bike.TotalDistanceM = live.Odometer
	}
}
