package repository

import (
	"context"
	"database/sql"

	"tradecore/internal/xerrors"
	"tradecore/pkg/utils"
)

// Maintenance groups the Durable Store's periodic upkeep operations (§4.1),
// called by the trade loop on fixed cadences.
type Maintenance struct {
	db *sql.DB
}

// NewMaintenance creates a new instance backed by db.
func NewMaintenance(db *sql.DB) *Maintenance {
	return &Maintenance{db: db}
}

// CheckpointWAL forces Postgres to flush its write-ahead log to the data
// files, bounding replay time if the process is killed uncleanly.
func (m *Maintenance) CheckpointWAL(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, "CHECKPOINT")
	if err != nil {
		utils.Warn("wal checkpoint failed", utils.Err(err))
		return xerrors.NewStorageError(xerrors.StorageTransient, "checkpoint_wal", err)
	}
	return nil
}

// CloseAllConnections drops the idle pool so the next query opens fresh
// connections, refreshing long-lived handles per the teacher's own
// SetMaxIdleConns startup tuning.
func (m *Maintenance) CloseAllConnections() {
	m.db.SetMaxIdleConns(0)
	m.db.SetMaxIdleConns(5)
}
