// Package lifecycle owns the ride state machines behind the rider and
// driver dashboards. One machine type serves both roles: the states and
// transition tables are role-specific, the folding rules are shared. Local
// actions update state optimistically and roll back if the gateway write
// fails; whatever status the external store reports always wins.
package lifecycle

type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

// State is a dashboard-visible lifecycle state. Rider and driver dashboards
// use disjoint value sets.
type State string

const (
	// rider
	StateIdle           State = "idle"
	StateSearching      State = "searching"
	StateDriverAssigned State = "driverAssigned"
	StateEnRoute        State = "enRoute"
	StateArrived        State = "arrived"

	// driver
	StateOffline      State = "offline"
	StateOnline       State = "online"
	StateRideAccepted State = "rideAccepted"
	StatePickingUp    State = "pickingUp"

	// shared
	StateInProgress State = "inProgress"
	StateCompleted  State = "completed"
)

// transitions lists the locally-initiated moves per role. External store
// updates bypass this table: the reported status is authoritative and is
// folded via stateForStatus regardless of the current local state.
var transitions = map[Role]map[State][]State{
	RoleRider: {
		StateIdle:           {StateSearching},
		StateSearching:      {StateIdle},
		StateDriverAssigned: {StateEnRoute, StateArrived, StateInProgress, StateIdle},
		StateEnRoute:        {StateArrived, StateInProgress, StateIdle},
		StateArrived:        {StateInProgress, StateIdle},
		StateInProgress:     {StateCompleted},
		StateCompleted:      {StateIdle},
	},
	RoleDriver: {
		StateOffline:      {StateOnline},
		StateOnline:       {StateRideAccepted, StateOffline},
		// no local path back to browsing mid-ride; only an external
		// cancellation fold releases an accepted ride
		StateRideAccepted: {StatePickingUp, StateInProgress, StateOffline},
		StatePickingUp:    {StateInProgress, StateOffline},
		StateInProgress:   {StateCompleted},
		StateCompleted:    {StateOnline, StateOffline},
	},
}

// CanTransition reports whether a locally-initiated move is allowed.
func CanTransition(role Role, from, to State) bool {
	next, ok := transitions[role][from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
