package types

import "time"

// Timestamp is a Lamport logical time value.
// It orders events across processes without relying on wall-clock time.
type Timestamp int64

// NodeID identifies a dispatch node within the election roster.
// Higher ids win bully elections.
type NodeID int

// NodeRole represents the possible roles of a dispatch node.
type NodeRole int

const (
	// RoleDown is the role of a node that is shut down or was detected as failed.
	// - A down node does not answer election messages and cannot lead.
	// - On startup or recovery it moves to RoleFollower and immediately holds an election.
	RoleDown NodeRole = iota

	// RoleFollower is the role of an active node that is not the leader.
	// - Followers answer election messages from lower ids and start their own election.
	// - If an election finds no active higher id, the follower becomes RoleLeader.
	RoleFollower

	// RoleLeader is the role of the single node authorized to mutate ride state.
	// - The leader announces itself to every other node after winning an election.
	// - A coordinator announcement from a higher id demotes it back to RoleFollower.
	RoleLeader
)

// NodeRecord is a point-in-time view of one roster entry.
type NodeRecord struct {
	ID       NodeID
	Active   bool
	IsLeader bool
}

// RideStatus is the lifecycle state of a ride.
type RideStatus string

const (
	RideRequested RideStatus = "REQUESTED"
	RideAssigned  RideStatus = "ASSIGNED"
	RideAccepted  RideStatus = "ACCEPTED"
	RideCompleted RideStatus = "COMPLETED"
	RideCancelled RideStatus = "CANCELLED"
)

// Ride is a single trip request. Rides are created on request, mutated only by
// the current leader, and never deleted during a session.
type Ride struct {
	ID          string
	RiderID     string
	Pickup      string
	Destination string
	DriverID    string // Empty until a driver is assigned
	Status      RideStatus
	Fare        float64
	RequestedAt time.Time
	UpdatedAt   time.Time
	// HandledBy is the leader node that performed the last mutation.
	HandledBy NodeID
}

// Driver is a registered driver and its last known location.
type Driver struct {
	ID        string
	Location  string
	Vehicle   string
	Phone     string
	Rating    float64
	Available bool
}

// Block describes a stored block: its id, payload size, and the storage nodes
// holding a replica. Blocks are immutable once written.
type Block struct {
	ID       string
	Size     int64
	Replicas []string
}

// FileMetadata is the name-node record of a stored file.
type FileMetadata struct {
	Name      string    `json:"file_name"`
	Size      int64     `json:"size"`
	BlockIDs  []string  `json:"blocks"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"timestamp"`
}

// StorageNodeState summarizes a data node's accounting.
// UsedSpace never exceeds Capacity.
type StorageNodeState struct {
	ID        string
	Capacity  int64
	UsedSpace int64
	Blocks    int
	Active    bool
}

// FreeSpace returns the remaining capacity of the node.
func (s StorageNodeState) FreeSpace() int64 {
	return s.Capacity - s.UsedSpace
}
