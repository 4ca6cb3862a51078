package location

// Settings control how often the sensor reports.
type Settings struct {
	// DesiredAccuracy in metres.
	DesiredAccuracy float64
	// DistanceFilter is the minimum movement, in metres, before a new fix is reported.
	DistanceFilter float64
}

const (
	walkingSpeed = 1.0  // m/s
	drivingSpeed = 15.0 // m/s, about 54 km/h
)

var (
	Stationary = Settings{DesiredAccuracy: 100, DistanceFilter: 250}
	Moving     = Settings{DesiredAccuracy: 10, DistanceFilter: 50}
	Fast       = Settings{DesiredAccuracy: 5, DistanceFilter: 10}
)

// SettingsForSpeed picks coarse settings when standing still and fine ones at
// speed. Unknown speed (negative) counts as stationary.
func SettingsForSpeed(speed float64) Settings {
	switch {
	case speed > drivingSpeed:
		return Fast
	case speed >= walkingSpeed:
		return Moving
	default:
		return Stationary
	}
}
