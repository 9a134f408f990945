package types

import "slices"

// String helps with making role values more readable in logs and debug output.
func (rr NodeRole) String() string {
	switch rr {
	case RoleDown:
		return "Down"
	case RoleFollower:
		return "Follower"
	case RoleLeader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// IsValid checks if the role is one of the valid node roles.
func (rr NodeRole) IsValid() bool {
	return rr == RoleDown || rr == RoleFollower || rr == RoleLeader
}

// IsActive reports whether a node in this role answers messages.
func (rr NodeRole) IsActive() bool {
	return rr == RoleFollower || rr == RoleLeader
}

// transitions maps the valid role transitions of the bully algorithm.
var transitions = map[NodeRole][]NodeRole{
	RoleDown:     {RoleFollower},
	RoleFollower: {RoleLeader, RoleDown},
	RoleLeader:   {RoleFollower, RoleDown},
}

// CanTransitionTo checks if a transition from the current role to the target role is valid.
func (rr NodeRole) CanTransitionTo(target NodeRole) bool {
	validTargets, exists := transitions[rr]
	if !exists {
		return false
	}

	return slices.Contains(validTargets, target)
}

// IsValid checks if the status is one of the known ride statuses.
func (s RideStatus) IsValid() bool {
	switch s {
	case RideRequested, RideAssigned, RideAccepted, RideCompleted, RideCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s RideStatus) IsTerminal() bool {
	return s == RideCompleted || s == RideCancelled
}

var rideTransitions = map[RideStatus][]RideStatus{
	RideRequested: {RideAssigned, RideCancelled},
	RideAssigned:  {RideAccepted, RideCancelled},
	RideAccepted:  {RideCompleted, RideCancelled},
}

// CanTransitionTo checks if a ride may move from s to target.
func (s RideStatus) CanTransitionTo(target RideStatus) bool {
	return slices.Contains(rideTransitions[s], target)
}
