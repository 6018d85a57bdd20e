// Package reading merges the bike profile and the live state-of-charge
// payloads into a single normalized Reading.
//
// Every leaf of a Reading is a pointer (or a nil slice); nil is the unknown
// marker and is serialized as JSON null, never omitted.
package reading

// Reading is the normalized state of one bike for one poll cycle.
type Reading struct {
	Battery           Battery    `json:"battery"`
	Bike              Bike       `json:"bike"`
	Components        Components `json:"components"`
	LastUpdate        *string    `json:"last_update"`
	LiveDataAvailable bool       `json:"live_data_available"`
}

type Battery struct {
	LevelPercent        *float64 `json:"level_percent"`
	RemainingWh         *float64 `json:"remaining_wh"`
	TotalCapacityWh     *float64 `json:"total_capacity_wh"`
	IsCharging          *bool    `json:"is_charging"`
	IsChargerConnected  *bool    `json:"is_charger_connected"`
	IsLightReserve      *bool    `json:"is_light_reserve"`
	ChargeCyclesTotal   *float64 `json:"charge_cycles_total"`
	DeliveredLifetimeWh *float64 `json:"delivered_lifetime_wh"`
	ProductName         *string  `json:"product_name"`
	SoftwareVersion     *string  `json:"software_version"`

	// Live-only. ReachableRangeKm holds one entry per assist mode; an entry
	// the cloud reports as null stays nil.
	ReachableRangeKm       []*float64 `json:"reachable_range_km"`
	RemainingEnergyRiderWh *float64   `json:"remaining_energy_rider_wh"`
}

type Bike struct {
	Brand          *string  `json:"brand"`
	TotalDistanceM *float64 `json:"total_distance_m"`
	IsLocked       *bool    `json:"is_locked"`
	LockEnabled    *bool    `json:"lock_enabled"`
	AlarmEnabled   *bool    `json:"alarm_enabled"`
	LightOn        *bool    `json:"light_on"`
}

// Component is the product metadata of one sub-device.
type Component struct {
	ProductName     *string `json:"product_name"`
	SoftwareVersion *string `json:"software_version"`
	SerialNumber    *string `json:"serial_number"`
}

type Components struct {
	DriveUnit       Component `json:"drive_unit"`
	Battery         Component `json:"battery"`
	ConnectedModule Component `json:"connected_module"`
	RemoteControl   Component `json:"remote_control"`
}

// MaxReachableRangeKm returns the largest known per-assist-mode range, or nil
// when no range is known.
func (b Battery) MaxReachableRangeKm() *float64 {
	var best *float64
	for _, v := range b.ReachableRangeKm {
		if v != nil && (best == nil || *v > *best) {
			best = v
		}
	}
	if best == nil {
		return nil
	}
	v := *best
	return &v
}
