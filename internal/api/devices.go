package api

import (
	"sync"

	"github.com/google/uuid"

	"github.com/mapchat/syncd/internal/location"
	"github.com/mapchat/syncd/internal/service"
)

// Devices keeps one location session per signed-in user. Each session is
// driven by a PushSensor fed with the state and fixes the device reports.
type Devices struct {
	newLocations func(location.Sensor) service.Locations

	mu       sync.Mutex
	sessions map[uuid.UUID]*device
}

type device struct {
	sensor    *location.PushSensor
	locations service.Locations
}

// NewDevices creates a registry. newLocations builds the location service of
// a new session around its sensor.
func NewDevices(newLocations func(location.Sensor) service.Locations) *Devices {
	return &Devices{newLocations: newLocations, sessions: make(map[uuid.UUID]*device)}
}

// For returns the session of userID, creating it on first use.
func (d *Devices) For(userID uuid.UUID) (*location.PushSensor, service.Locations) {
	d.mu.Lock()
	defer d.mu.Unlock()

	dev, ok := d.sessions[userID]
	if !ok {
		sensor := location.NewPushSensor()
		locs := d.newLocations(sensor)
		locs.SetUser(userID)
		dev = &device{sensor: sensor, locations: locs}
		d.sessions[userID] = dev
	}
	return dev.sensor, dev.locations
}

// Release stops tracking for userID and forgets its session.
func (d *Devices) Release(userID uuid.UUID) {
	d.mu.Lock()
	dev, ok := d.sessions[userID]
	delete(d.sessions, userID)
	d.mu.Unlock()

	if ok {
		dev.locations.StopTracking()
	}
}

// Close stops every session.
func (d *Devices) Close() {
	d.mu.Lock()
	sessions := d.sessions
	d.sessions = make(map[uuid.UUID]*device)
	d.mu.Unlock()

	for _, dev := range sessions {
		dev.locations.StopTracking()
	}
}
