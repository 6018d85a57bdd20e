package reading

// Wire shapes of the two upstream payloads. Any nested object may arrive as
// an explicit null, so every one of them is a pointer and is read through
// orEmpty.

type profilePayload struct {
	Data *struct {
		ID         string          `json:"id"`
		Attributes *BikeAttributes `json:"attributes"`
	} `json:"data"`
}

// BikeAttributes is the attributes object of a bike profile.
type BikeAttributes struct {
	BrandName       *string                 `json:"brandName"`
	FrameNumber     *string                 `json:"frameNumber"`
	Batteries       []*batteryPayload       `json:"batteries"`
	DriveUnit       *driveUnitPayload       `json:"driveUnit"`
	ConnectedModule *connectedModulePayload `json:"connectedModule"`
	RemoteControl   *componentPayload       `json:"remoteControl"`
}

type componentPayload struct {
	ProductName     *string `json:"productName"`
	SoftwareVersion *string `json:"softwareVersion"`
	SerialNumber    *string `json:"serialNumber"`
}

func (c componentPayload) component() Component {
	return Component{
		ProductName:     c.ProductName,
		SoftwareVersion: c.SoftwareVersion,
		SerialNumber:    c.SerialNumber,
	}
}

type batteryPayload struct {
	componentPayload

	BatteryLevel             *float64 `json:"batteryLevel"`
	RemainingEnergy          *float64 `json:"remainingEnergy"`
	TotalEnergy              *float64 `json:"totalEnergy"`
	IsCharging               *bool    `json:"isCharging"`
	IsChargerConnected       *bool    `json:"isChargerConnected"`
	IsLightReserveReached    *bool    `json:"isLightReserveReached"`
	DeliveredWhOverLifetime  *float64 `json:"deliveredWhOverLifetime"`
	NumberOfFullChargeCycles *struct {
		Total *float64 `json:"total"`
	} `json:"numberOfFullChargeCycles"`
}

type driveUnitPayload struct {
	componentPayload

	TotalDistanceTraveled *float64 `json:"totalDistanceTraveled"`
	Lock                  *struct {
		IsLocked  *bool `json:"isLocked"`
		IsEnabled *bool `json:"isEnabled"`
	} `json:"lock"`
	BikeLight *struct {
		IsSwitchedOn *bool `json:"isSwitchedOn"`
	} `json:"bikeLight"`
}

type connectedModulePayload struct {
	componentPayload

	IsAlarmFeatureEnabled *bool `json:"isAlarmFeatureEnabled"`
}

type livePayload struct {
	StateOfCharge             *float64   `json:"stateOfCharge"`
	ChargingActive            *bool      `json:"chargingActive"`
	ChargerConnected          *bool      `json:"chargerConnected"`
	RemainingEnergyForRider   *float64   `json:"remainingEnergyForRider"`
	ReachableRange            []*float64 `json:"reachableRange"`
	Odometer                  *float64   `json:"odometer"`
	StateOfChargeLatestUpdate *string    `json:"stateOfChargeLatestUpdate"`
}

// orEmpty dereferences p, substituting the zero value when p is nil.
func orEmpty[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

// firstOrEmpty returns the first element of s, or the zero value when s is
// empty or its first element is null.
func firstOrEmpty[T any](s []*T) T {
	if len(s) == 0 {
		var zero T
		return zero
	}
	return orEmpty(s[0])
}
