package dispatch

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jathurchan/ridecore/election"
	"github.com/jathurchan/ridecore/lock"
	"github.com/jathurchan/ridecore/logger"
	"github.com/jathurchan/ridecore/types"
)

// Assignment describes the driver matched to a ride.
type Assignment struct {
	RideID   string
	DriverID string
	Vehicle  string
	Phone    string
	Rating   float64
	Location string
}

// Service is the dispatch context: the driver registry, the ride table and
// the coordination primitives guarding them. Ride mutations go through the
// ride's resource lock and are only executed while a leader is elected.
type Service struct {
	clock    lock.LogicalClock
	locks    lock.ResourceLock
	election Leadership
	store    RecordStore
	wall     election.Clock
	cfg      Config
	logger   logger.Logger

	ridesMu sync.Mutex
	rides   map[string]*types.Ride

	driversMu sync.Mutex
	drivers   map[string]*types.Driver
	available []string // FIFO of drivers free for assignment

	gpsSeq atomic.Uint64
}

// NewService validates deps and cfg and returns an empty dispatch context.
func NewService(deps Dependencies, cfg Config) (*Service, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.WallClock == nil {
		deps.WallClock = election.NewStandardClock()
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNoOpLogger()
	}

	return &Service{
		clock:    deps.Clock,
		locks:    deps.Locks,
		election: deps.Election,
		store:    deps.Store,
		wall:     deps.WallClock,
		cfg:      cfg,
		logger:   deps.Logger.WithComponent("dispatch"),
		rides:    make(map[string]*types.Ride),
		drivers:  make(map[string]*types.Driver),
	}, nil
}

// Stamp merges a received timestamp into the logical clock and returns the
// local time. Requests without a timestamp advance the clock with a tick.
func (s *Service) Stamp(received types.Timestamp, present bool) types.Timestamp {
	if !present {
		return s.clock.Tick()
	}
	return s.clock.Update(received)
}

func (s *Service) requireLeader() (types.NodeID, error) {
	leader, ok := s.election.Leader()
	if !ok {
		return 0, ErrNoLeader
	}
	return leader, nil
}

// withRideLock runs fn while holding the ride's resource lock at ts.
func (s *Service) withRideLock(rideID string, ts types.Timestamp, fn func() error) error {
	if !s.locks.Acquire(rideID, ts) {
		s.logger.Infow("Ride lock contention", "ride", rideID, "timestamp", ts)
		return ErrRideBusy
	}
	defer s.locks.Release(rideID)
	return fn()
}

// RegisterDriver adds a driver to the registry and the assignment queue.
// Registering a known driver updates its location.
func (s *Service) RegisterDriver(ctx context.Context, ts types.Timestamp, driverID, location string) error {
	if driverID == "" {
		return fmt.Errorf("%w: driver id must not be empty", ErrInvalidArgument)
	}
	leader, err := s.requireLeader()
	if err != nil {
		return err
	}

	s.driversMu.Lock()
	defer s.driversMu.Unlock()

	driver, known := s.drivers[driverID]
	next := types.Driver{
		ID:        driverID,
		Location:  location,
		Vehicle:   vehicleFor(driverID),
		Phone:     driverPhone(driverID),
		Rating:    driverRating(driverID),
		Available: true,
	}
	if known {
		next.Available = driver.Available
	}

	if err := s.store.Replace(ctx, DriverPath(driverID), driverRecord(&next, s.wall.Now()), s.cfg.RecordOwner); err != nil {
		return fmt.Errorf("failed to persist driver %s: %w", driverID, err)
	}

	s.drivers[driverID] = &next
	if !known {
		s.available = append(s.available, driverID)
	}

	s.logger.Infow("Driver registered",
		"driver", driverID, "location", location, "timestamp", ts, "leader", leader, "update", known)
	return nil
}

// RequestRide creates a ride in REQUESTED state and returns its id.
func (s *Service) RequestRide(ctx context.Context, ts types.Timestamp, riderID, pickup, destination string) (string, error) {
	if riderID == "" {
		return "", fmt.Errorf("%w: rider id must not be empty", ErrInvalidArgument)
	}
	leader, err := s.requireLeader()
	if err != nil {
		return "", err
	}

	now := s.wall.Now()
	ride := &types.Ride{
		ID:          fmt.Sprintf("RIDE_%s_%s", riderID, strings.ReplaceAll(uuid.NewString(), "-", "")[:8]),
		RiderID:     riderID,
		Pickup:      pickup,
		Destination: destination,
		Status:      types.RideRequested,
		RequestedAt: now,
		UpdatedAt:   now,
		HandledBy:   leader,
	}

	s.ridesMu.Lock()
	defer s.ridesMu.Unlock()

	if err := s.store.Replace(ctx, RidePath(ride.ID), rideRecord(ride), s.cfg.RecordOwner); err != nil {
		return "", fmt.Errorf("failed to persist ride %s: %w", ride.ID, err)
	}
	s.rides[ride.ID] = ride

	s.logger.Infow("Ride requested",
		"ride", ride.ID, "rider", riderID, "pickup", pickup, "destination", destination,
		"timestamp", ts, "leader", leader)
	return ride.ID, nil
}

// AssignDriver matches the first available driver to a requested ride.
func (s *Service) AssignDriver(ctx context.Context, ts types.Timestamp, rideID string) (Assignment, error) {
	var out Assignment
	err := s.withRideLock(rideID, ts, func() error {
		leader, err := s.requireLeader()
		if err != nil {
			return err
		}

		s.ridesMu.Lock()
		defer s.ridesMu.Unlock()

		ride, ok := s.rides[rideID]
		if !ok {
			return ErrRideNotFound
		}
		if !ride.Status.CanTransitionTo(types.RideAssigned) {
			return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, rideID, ride.Status)
		}

		s.driversMu.Lock()
		defer s.driversMu.Unlock()

		if len(s.available) == 0 {
			return ErrNoDrivers
		}
		driver := s.drivers[s.available[0]]

		next := *ride
		next.DriverID = driver.ID
		next.Status = types.RideAssigned
		next.Fare = s.cfg.AssignedFare
		next.UpdatedAt = s.wall.Now()
		next.HandledBy = leader

		if err := s.store.Replace(ctx, RidePath(rideID), rideRecord(&next), s.cfg.RecordOwner); err != nil {
			return fmt.Errorf("failed to persist ride %s: %w", rideID, err)
		}

		*ride = next
		s.available = s.available[1:]
		driver.Available = false

		out = Assignment{
			RideID:   rideID,
			DriverID: driver.ID,
			Vehicle:  driver.Vehicle,
			Phone:    driver.Phone,
			Rating:   driver.Rating,
			Location: driver.Location,
		}
		s.logger.Infow("Driver assigned", "ride", rideID, "driver", driver.ID, "timestamp", ts, "leader", leader)
		return nil
	})
	return out, err
}

// AcceptRide moves an assigned ride to ACCEPTED.
func (s *Service) AcceptRide(ctx context.Context, ts types.Timestamp, rideID string) error {
	return s.transition(ctx, ts, rideID, types.RideAccepted)
}

// CompleteRide moves an accepted ride to COMPLETED and frees its driver.
func (s *Service) CompleteRide(ctx context.Context, ts types.Timestamp, rideID string) error {
	return s.transition(ctx, ts, rideID, types.RideCompleted)
}

// CancelRide cancels a ride that has not finished and frees its driver, if any.
func (s *Service) CancelRide(ctx context.Context, ts types.Timestamp, rideID string) error {
	return s.transition(ctx, ts, rideID, types.RideCancelled)
}

func (s *Service) transition(ctx context.Context, ts types.Timestamp, rideID string, target types.RideStatus) error {
	return s.withRideLock(rideID, ts, func() error {
		leader, err := s.requireLeader()
		if err != nil {
			return err
		}

		s.ridesMu.Lock()
		defer s.ridesMu.Unlock()

		ride, ok := s.rides[rideID]
		if !ok {
			return ErrRideNotFound
		}
		if !ride.Status.CanTransitionTo(target) {
			return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, rideID, ride.Status)
		}

		next := *ride
		next.Status = target
		next.UpdatedAt = s.wall.Now()
		next.HandledBy = leader

		if err := s.store.Replace(ctx, RidePath(rideID), rideRecord(&next), s.cfg.RecordOwner); err != nil {
			return fmt.Errorf("failed to persist ride %s: %w", rideID, err)
		}
		*ride = next

		if target.IsTerminal() && ride.DriverID != "" {
			s.releaseDriver(ride.DriverID)
		}

		s.logger.Infow("Ride status changed",
			"ride", rideID, "status", target, "timestamp", ts, "leader", leader)
		return nil
	})
}

func (s *Service) releaseDriver(driverID string) {
	s.driversMu.Lock()
	defer s.driversMu.Unlock()

	driver, ok := s.drivers[driverID]
	if !ok || driver.Available {
		return
	}
	driver.Available = true
	s.available = append(s.available, driverID)
}

// CalculateFare returns distance × rate × the configured surge multiplier.
func (s *Service) CalculateFare(distance, rate float64) (float64, error) {
	if distance < 0 || rate < 0 || math.IsNaN(distance) || math.IsNaN(rate) ||
		math.IsInf(distance, 0) || math.IsInf(rate, 0) {
		return 0, fmt.Errorf("%w: distance and rate must be finite and non-negative", ErrInvalidArgument)
	}
	return distance * rate * s.cfg.SurgeMultiplier, nil
}

// UpdateGPS records a driver's position and appends a GPS record to the store.
func (s *Service) UpdateGPS(ctx context.Context, ts types.Timestamp, driverID string, lat, lon float64) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: coordinates out of range", ErrInvalidArgument)
	}
	if _, err := s.requireLeader(); err != nil {
		return err
	}

	s.driversMu.Lock()
	defer s.driversMu.Unlock()

	driver, ok := s.drivers[driverID]
	if !ok {
		return ErrDriverNotFound
	}

	now := s.wall.Now()
	path := gpsPath(driverID, now, s.gpsSeq.Add(1))
	if err := s.store.WriteFile(ctx, path, gpsRecord(driverID, lat, lon, now), s.cfg.RecordOwner); err != nil {
		return fmt.Errorf("failed to persist GPS update for %s: %w", driverID, err)
	}
	driver.Location = formatLocation(lat, lon)

	s.logger.Debugw("GPS updated", "driver", driverID, "location", driver.Location, "timestamp", ts)
	return nil
}

// RideStatus returns the ride's current status.
func (s *Service) RideStatus(rideID string) (types.RideStatus, bool) {
	ride, ok := s.Ride(rideID)
	return ride.Status, ok
}

// Ride returns a copy of a ride.
func (s *Service) Ride(rideID string) (types.Ride, bool) {
	s.ridesMu.Lock()
	defer s.ridesMu.Unlock()

	ride, ok := s.rides[rideID]
	if !ok {
		return types.Ride{}, false
	}
	return *ride, true
}

// Driver returns a copy of a registered driver.
func (s *Service) Driver(driverID string) (types.Driver, bool) {
	s.driversMu.Lock()
	defer s.driversMu.Unlock()

	driver, ok := s.drivers[driverID]
	if !ok {
		return types.Driver{}, false
	}
	return *driver, true
}

// LeaderStatus returns the currently elected dispatch node.
func (s *Service) LeaderStatus() (types.NodeID, bool) {
	return s.election.Leader()
}

// ListRides returns every ride ordered by id.
func (s *Service) ListRides() []types.Ride {
	s.ridesMu.Lock()
	defer s.ridesMu.Unlock()

	out := make([]types.Ride, 0, len(s.rides))
	for _, r := range s.rides {
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b types.Ride) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// ListDrivers returns every registered driver ordered by id.
func (s *Service) ListDrivers() []types.Driver {
	s.driversMu.Lock()
	defer s.driversMu.Unlock()

	out := make([]types.Driver, 0, len(s.drivers))
	for _, d := range s.drivers {
		out = append(out, *d)
	}
	slices.SortFunc(out, func(a, b types.Driver) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// StoredRides lists the ride records persisted in the block store.
func (s *Service) StoredRides() []string {
	return s.store.ListFiles(RidesPrefix)
}

// StoredDrivers lists the driver records persisted in the block store.
func (s *Service) StoredDrivers() []string {
	return s.store.ListFiles(DriversPrefix)
}
