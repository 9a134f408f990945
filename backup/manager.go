package backup

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jathurchan/ridecore/election"
	"github.com/jathurchan/ridecore/logger"
)

// Store is the subset of the block store the journal writes into.
type Store interface {
	WriteFile(ctx context.Context, name string, data []byte, owner string) error
	ListFiles(prefix string) []string
}

// Report summarizes one backup run.
type Report struct {
	Rides    int
	Drivers  int
	Snapshot string
}

// Status is the journal's view for BACKUP_STATUS.
type Status struct {
	// Rides and Drivers count the records currently in the store.
	Rides   int
	Drivers int

	// LastBackup is the completion time of the last successful run; zero
	// before the first one.
	LastBackup time.Time

	Runs   uint64
	Events uint64
}

// Manager journals fault events and periodically backs up dispatch records
// into the block store. It implements the fault monitor's handler interface.
type Manager struct {
	cfg    Config
	store  Store
	clock  election.Clock
	logger logger.Logger

	seq    atomic.Uint64
	runs   atomic.Uint64
	events atomic.Uint64

	mu         sync.Mutex
	lastBackup time.Time

	lifeMu  sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewManager validates cfg and returns an idle Manager. clock and log may be nil.
func NewManager(store Store, cfg Config, clock election.Clock, log logger.Logger) (*Manager, error) {
	if store == nil {
		return nil, ErrMissingStore
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = election.NewStandardClock()
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Manager{
		cfg:    cfg,
		store:  store,
		clock:  clock,
		logger: log.WithComponent("backup"),
	}, nil
}

// RecordFailure journals a counted failure of a monitored member.
func (m *Manager) RecordFailure(ctx context.Context, memberID string, count int) error {
	now := m.clock.Now()
	line := fmt.Sprintf("FAILURE_EVENT|%s|count=%d|timestamp=%d\n", memberID, count, now.UnixMilli())
	return m.writeEvent(ctx, m.name(failuresDir, "failure_", now), line)
}

// RecordPermanentFailure journals that a member reached the failure limit.
func (m *Manager) RecordPermanentFailure(ctx context.Context, memberID string) error {
	now := m.clock.Now()
	line := fmt.Sprintf("PERMANENT_FAILURE|%s|timestamp=%d\n", memberID, now.UnixMilli())
	return m.writeEvent(ctx, m.name(failuresDir, "failure_", now), line)
}

// RecordMigration journals a completed migration away from a failed data node.
func (m *Manager) RecordMigration(ctx context.Context, memberID string, moved int) error {
	now := m.clock.Now()
	line := fmt.Sprintf("DATA_MIGRATION|from=%s|moved=%d|timestamp=%d\n", memberID, moved, now.UnixMilli())
	return m.writeEvent(ctx, m.name(migrationsDir, "migration_", now), line)
}

// RecordRecovery journals a member that came back.
func (m *Manager) RecordRecovery(ctx context.Context, memberID string) error {
	now := m.clock.Now()
	line := fmt.Sprintf("RECOVERY_EVENT|%s|timestamp=%d\n", memberID, now.UnixMilli())
	return m.writeEvent(ctx, m.name(recoveriesDir, "recovery_", now), line)
}

// OnFailure implements the fault monitor handler.
func (m *Manager) OnFailure(ctx context.Context, memberID string, count int) {
	m.logError(m.RecordFailure(ctx, memberID, count), "failure", memberID)
}

// OnPermanentFailure implements the fault monitor handler.
func (m *Manager) OnPermanentFailure(ctx context.Context, memberID string) {
	m.logError(m.RecordPermanentFailure(ctx, memberID), "permanent failure", memberID)
}

// OnRecovery implements the fault monitor handler.
func (m *Manager) OnRecovery(ctx context.Context, memberID string) {
	m.logError(m.RecordRecovery(ctx, memberID), "recovery", memberID)
}

// OnMigration matches storage.MigrationFunc.
func (m *Manager) OnMigration(ctx context.Context, memberID string, moved int) {
	m.logError(m.RecordMigration(ctx, memberID, moved), "migration", memberID)
}

// RunBackup writes one backup record per ride and driver record followed by
// a system snapshot. Every record is attempted; failures are joined into the
// returned error and LastBackup only advances on a fully successful run.
func (m *Manager) RunBackup(ctx context.Context) (Report, error) {
	rides := m.store.ListFiles(m.cfg.RidesPrefix)
	drivers := m.store.ListFiles(m.cfg.DriversPrefix)
	now := m.clock.Now()
	millis := now.UnixMilli()

	var errs []error
	for _, f := range rides {
		name := fmt.Sprintf("%s%d-%d_%s", rideBackupsDir, millis, m.seq.Add(1), path.Base(f))
		errs = append(errs, m.write(ctx, name, fmt.Sprintf("BACKUP_RIDE|%s|%d\n", f, millis), m.cfg.BackupOwner))
	}
	for _, f := range drivers {
		name := fmt.Sprintf("%s%d-%d_%s", driverBackupsDir, millis, m.seq.Add(1), path.Base(f))
		errs = append(errs, m.write(ctx, name, fmt.Sprintf("BACKUP_DRIVER|%s|%d\n", f, millis), m.cfg.BackupOwner))
	}

	snapshot := m.name(snapshotsDir, "snapshot_", now)
	line := fmt.Sprintf("SYSTEM_SNAPSHOT|%d|rides=%d|drivers=%d|timestamp=%d\n", millis, len(rides), len(drivers), millis)
	errs = append(errs, m.write(ctx, snapshot, line, m.cfg.BackupOwner))

	report := Report{Rides: len(rides), Drivers: len(drivers), Snapshot: snapshot}
	if err := errors.Join(errs...); err != nil {
		m.logger.Errorw("Backup run incomplete", "rides", report.Rides, "drivers", report.Drivers, "error", err)
		return report, err
	}

	m.mu.Lock()
	m.lastBackup = now
	m.mu.Unlock()
	m.runs.Add(1)

	m.logger.Infow("Backup completed", "rides", report.Rides, "drivers", report.Drivers, "snapshot", snapshot)
	return report, nil
}

// Status reports current record counts and journal activity.
func (m *Manager) Status() Status {
	m.mu.Lock()
	last := m.lastBackup
	m.mu.Unlock()

	return Status{
		Rides:      len(m.store.ListFiles(m.cfg.RidesPrefix)),
		Drivers:    len(m.store.ListFiles(m.cfg.DriversPrefix)),
		LastBackup: last,
		Runs:       m.runs.Load(),
		Events:     m.events.Load(),
	}
}

// Start runs a backup immediately and then every Interval until ctx is
// cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if m.running {
		return ErrAlreadyStarted
	}
	m.running = true
	m.stopCh = make(chan struct{})

	ticker := m.clock.NewTicker(m.cfg.Interval)
	m.wg.Add(1)
	go m.loop(ctx, ticker, m.stopCh)

	m.logger.Infow("Backup service started", "interval", m.cfg.Interval)
	return nil
}

// Stop halts the backup loop and waits for an in-progress run to finish.
func (m *Manager) Stop() {
	m.lifeMu.Lock()
	if !m.running {
		m.lifeMu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.lifeMu.Unlock()

	m.wg.Wait()
	m.logger.Infow("Backup service stopped")
}

func (m *Manager) loop(ctx context.Context, ticker election.Ticker, stopCh <-chan struct{}) {
	defer m.wg.Done()
	defer ticker.Stop()

	_, _ = m.RunBackup(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.Chan():
			_, _ = m.RunBackup(ctx)
		}
	}
}

func (m *Manager) name(dir, prefix string, at time.Time) string {
	return fmt.Sprintf("%s%s%d-%d.txt", dir, prefix, at.UnixMilli(), m.seq.Add(1))
}

func (m *Manager) writeEvent(ctx context.Context, name, line string) error {
	if err := m.write(ctx, name, line, m.cfg.EventOwner); err != nil {
		return err
	}
	m.events.Add(1)
	m.logger.Debugw("Event journaled", "file", name)
	return nil
}

func (m *Manager) write(ctx context.Context, name, content, owner string) error {
	if err := m.store.WriteFile(ctx, name, []byte(content), owner); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (m *Manager) logError(err error, kind, memberID string) {
	if err != nil {
		m.logger.Errorw("Failed to journal event", "kind", kind, "member", memberID, "error", err)
	}
}
