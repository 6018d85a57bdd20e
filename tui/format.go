package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/flowbike/ebike-monitor/internal/reading"
)

// row is one label/value line of the battery panel.
type row struct {
	label string
	value string
}

const unknown = "unknown"

// readingRows lays out r the same way for plain and interactive output.
func readingRows(r *reading.Reading) []row {
	b := r.Battery
	rows := []row{
		{"Battery Level", withUnit(b.LevelPercent, 0, "%")},
		{"Remaining Energy", withUnit(b.RemainingWh, 1, " Wh")},
		{"Total Capacity", withUnit(b.TotalCapacityWh, 1, " Wh")},
		{"Charging", yesNo(b.IsCharging, "CHARGING", "Not charging")},
		{"Charger connected", yesNo(b.IsChargerConnected, "Yes", "No")},
	}

	if r.LiveDataAvailable {
		if len(b.ReachableRangeKm) > 0 {
			ranges := make([]string, len(b.ReachableRangeKm))
			for i, v := range b.ReachableRangeKm {
				ranges[i] = "?"
				if v != nil {
					ranges[i] = strconv.FormatFloat(*v, 'f', -1, 64)
				}
			}
			rows = append(rows, row{"Reachable Range", "[" + strings.Join(ranges, ", ") + "] km (per assist mode)"})
		}
		if b.RemainingEnergyRiderWh != nil {
			rows = append(rows, row{"Rider Energy", withUnit(b.RemainingEnergyRiderWh, 1, " Wh")})
		}
		if r.LastUpdate != nil {
			rows = append(rows, row{"Last Update", *r.LastUpdate})
		}
	}

	var distance *float64
	if r.Bike.TotalDistanceM != nil {
		km := *r.Bike.TotalDistanceM / 1000
		distance = &km
	}
	rows = append(rows,
		row{"Charge Cycles", withUnit(b.ChargeCyclesTotal, 1, "")},
		row{"Energy Delivered", withUnit(b.DeliveredLifetimeWh, 0, " Wh")},
		row{"Total Distance", withUnit(distance, 1, " km")},
		row{"Lock Status", yesNo(r.Bike.IsLocked, "LOCKED", "Unlocked")},
	)
	return rows
}

func withUnit(v *float64, prec int, unit string) string {
	if v == nil {
		return unknown
	}
	return strconv.FormatFloat(*v, 'f', prec, 64) + unit
}

func yesNo(v *bool, yes, no string) string {
	switch {
	case v == nil:
		return unknown
	case *v:
		return yes
	default:
		return no
	}
}

func formatRows(rows []row) string {
	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "%-19s %s\n", r.label+":", r.value)
	}
	return b.String()
}
