package reading

import "math"

// Device classes and state classes as understood by Home Assistant.
const (
	ClassBattery         = "battery"
	ClassEnergy          = "energy"
	ClassEnergyStorage   = "energy_storage"
	ClassDistance        = "distance"
	ClassBatteryCharging = "battery_charging"
	ClassPlug            = "plug"
	ClassProblem         = "problem"
	ClassLock            = "lock"
	ClassLight           = "light"

	StateMeasurement     = "measurement"
	StateTotalIncreasing = "total_increasing"
)

// Units of measurement.
const (
	UnitPercent    = "%"
	UnitWattHour   = "Wh"
	UnitKiloWattHr = "kWh"
	UnitKilometer  = "km"
)

// Sensor describes one numeric value exposed to hosts.
type Sensor struct {
	Key              string
	Name             string
	Unit             string
	DeviceClass      string
	StateClass       string
	EnabledByDefault bool
	Value            func(*Reading) *float64
}

// BinarySensor describes one on/off value exposed to hosts.
type BinarySensor struct {
	Key              string
	Name             string
	DeviceClass      string
	EnabledByDefault bool
	Value            func(*Reading) *bool
}

// Sensors lists the numeric fields of a Reading in display order.
var Sensors = []Sensor{
	{
		Key:              "battery_level",
		Name:             "Battery Level",
		Unit:             UnitPercent,
		DeviceClass:      ClassBattery,
		StateClass:       StateMeasurement,
		EnabledByDefault: true,
		Value:            func(r *Reading) *float64 { return r.Battery.LevelPercent },
	},
	{
		Key:              "battery_remaining_energy",
		Name:             "Battery Remaining Energy",
		Unit:             UnitWattHour,
		DeviceClass:      ClassEnergyStorage,
		StateClass:       StateMeasurement,
		EnabledByDefault: true,
		Value:            func(r *Reading) *float64 { return r.Battery.RemainingWh },
	},
	{
		Key:              "battery_capacity",
		Name:             "Battery Capacity",
		Unit:             UnitWattHour,
		DeviceClass:      ClassEnergyStorage,
		StateClass:       StateMeasurement,
		EnabledByDefault: true,
		Value:            func(r *Reading) *float64 { return r.Battery.TotalCapacityWh },
	},
	{
		// Only reported while the bike is online.
		Key:         "battery_reachable_range",
		Name:        "Reachable Range",
		Unit:        UnitKilometer,
		DeviceClass: ClassDistance,
		StateClass:  StateMeasurement,
		Value:       func(r *Reading) *float64 { return r.Battery.MaxReachableRangeKm() },
	},
	{
		Key:              "total_distance",
		Name:             "Total Distance",
		Unit:             UnitKilometer,
		DeviceClass:      ClassDistance,
		StateClass:       StateTotalIncreasing,
		EnabledByDefault: true,
		Value:            func(r *Reading) *float64 { return thousandths(r.Bike.TotalDistanceM) },
	},
	{
		Key:              "charge_cycles",
		Name:             "Charge Cycles",
		StateClass:       StateTotalIncreasing,
		EnabledByDefault: true,
		Value:            func(r *Reading) *float64 { return r.Battery.ChargeCyclesTotal },
	},
	{
		Key:              "lifetime_energy_delivered",
		Name:             "Lifetime Energy Delivered",
		Unit:             UnitKiloWattHr,
		DeviceClass:      ClassEnergy,
		StateClass:       StateTotalIncreasing,
		EnabledByDefault: true,
		Value:            func(r *Reading) *float64 { return thousandths(r.Battery.DeliveredLifetimeWh) },
	},
}

// BinarySensors lists the boolean fields of a Reading in display order.
var BinarySensors = []BinarySensor{
	{
		Key:              "battery_charging",
		Name:             "Battery Charging",
		DeviceClass:      ClassBatteryCharging,
		EnabledByDefault: true,
		Value:            func(r *Reading) *bool { return r.Battery.IsCharging },
	},
	{
		Key:              "charger_connected",
		Name:             "Charger Connected",
		DeviceClass:      ClassPlug,
		EnabledByDefault: true,
		Value:            func(r *Reading) *bool { return r.Battery.IsChargerConnected },
	},
	{
		Key:              "battery_light_reserve",
		Name:             "Battery Light Reserve",
		DeviceClass:      ClassProblem,
		EnabledByDefault: true,
		Value:            func(r *Reading) *bool { return r.Battery.IsLightReserve },
	},
	{
		Key:              "bike_locked",
		Name:             "Bike Locked",
		DeviceClass:      ClassLock,
		EnabledByDefault: true,
		Value:            func(r *Reading) *bool { return r.Bike.IsLocked },
	},
	{
		Key:              "light_on",
		Name:             "Light On",
		DeviceClass:      ClassLight,
		EnabledByDefault: true,
		Value:            func(r *Reading) *bool { return r.Bike.LightOn },
	},
}

// Available reports whether an entity backed by value should be shown: the
// last refresh succeeded, a reading exists and the value is known.
func Available[T any](lastUpdateSuccess bool, r *Reading, value func(*Reading) *T) bool {
	return lastUpdateSuccess && r != nil && value(r) != nil
}

// thousandths converts m to km or Wh to kWh, rounded to two decimals.
func thousandths(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := math.Round(*v/1000*100) / 100
	return &out
}
