package migration

import (
	"errors"

	outboxdomain "github.com/vidlens/trendsync/internal/outbox/domain"
	recorddomain "github.com/vidlens/trendsync/internal/record/domain"
	"github.com/vidlens/trendsync/internal/syncer"
	"gorm.io/gorm"
)

// RunMigrations creates or updates the schema on startup so the service is
// usable out of the box on both the embedded sqlite store and postgres.
func RunMigrations(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	return conn.AutoMigrate(
		&recorddomain.TrendRecord{},
		&recorddomain.DayAggregate{},
		&outboxdomain.Entry{},
		&syncer.SyncState{},
	)
}
