package reading

import (
	"encoding/json"
	"fmt"
)

const defaultBrand = "eBike"

// BikeName derives a display name from a bike's profile attributes, e.g.
// "Cube (Performance Line CX)" or "Cube (...1234)". Undecodable attributes
// yield the default brand.
func BikeName(attributes json.RawMessage) string {
	var attrs BikeAttributes
	if err := decode(attributes, &attrs); err != nil {
		return defaultBrand
	}
	return attrs.DisplayName()
}

// DisplayName prefers the drive unit product name, then the last four
// characters of the frame number, to tell bikes of the same brand apart.
func (a BikeAttributes) DisplayName() string {
	brand := orEmpty(a.BrandName)
	if brand == "" {
		brand = defaultBrand
	}

	if name := orEmpty(orEmpty(a.DriveUnit).ProductName); name != "" {
		return fmt.Sprintf("%s (%s)", brand, name)
	}

	if frame := orEmpty(a.FrameNumber); len(frame) >= 4 {
		return fmt.Sprintf("%s (...%s)", brand, frame[len(frame)-4:])
	}

	return brand
}
