package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RideStatus is the durable lifecycle status held by the sync service.
// The store's reported status is authoritative; local state is a guess.
type RideStatus string

const (
	StatusPending    RideStatus = "pending"
	StatusAccepted   RideStatus = "accepted"
	StatusInProgress RideStatus = "in_progress"
	StatusCompleted  RideStatus = "completed"
	StatusCancelled  RideStatus = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// NonTerminalStatuses is the filter used when re-attaching to a current ride.
var NonTerminalStatuses = []RideStatus{StatusPending, StatusAccepted, StatusInProgress}

// Ride is the client-side projection of one ride record. The durable copy
// lives in the external store; this one may be stale.
type Ride struct {
	ID            string     `json:"id"`
	RiderID       string     `json:"rider_id"`
	DriverID      string     `json:"driver_id,omitempty"`
	PickupName    string     `json:"pickup_name"`
	DropoffName   string     `json:"dropoff_name"`
	Pickup        Coord      `json:"pickup"`
	Dropoff       Coord      `json:"dropoff"`
	DriverLoc     *Coord     `json:"driver_loc,omitempty"`
	Status        RideStatus `json:"status"`
	RideType      string     `json:"ride_type"`
	EstimatedFare int64      `json:"estimated_fare"`
	EstimatedMin  int        `json:"estimated_min"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Identity is the authenticated principal returned by the session lookup.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Profile is a read-only projection fetched by identity lookup.
type Profile struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Rating float64 `json:"rating"` // 0..5
}

// RideEvent is one confirmed lifecycle transition, published for telemetry.
type RideEvent struct {
	RideID   string     `json:"ride_id"`
	RiderID  string     `json:"rider_id"`
	DriverID string     `json:"driver_id,omitempty"`
	Status   RideStatus `json:"status"`
	Actor    string     `json:"actor"` // rider, driver, store
	At       time.Time  `json:"at"`
}
