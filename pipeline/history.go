package pipeline

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// FileRun is one per-file outcome row in the run-history ledger.
type FileRun struct {
	ID            uint      `gorm:"primaryKey"`
	RunAt         time.Time `gorm:"index"`
	File          string    `gorm:"index;size:1024"`
	Success       bool      `gorm:"index"`
	TablesWritten int
	SensorRows    int
	RecordRows    int
	SelfReports   int
	ElapsedMS     int64
	LastError     string `gorm:"type:text"`
}

// History is an append-only SQLite ledger of batch outcomes. It records
// results after processing finishes; nothing in it feeds back into file
// processing, so units stay isolated.
type History struct {
	db *gorm.DB
}

// OpenHistory opens (creating if needed) the ledger at path.
func OpenHistory(path string) (*History, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&FileRun{}); err != nil {
		return nil, err
	}
	return &History{db: db}, nil
}

// RecordBatch appends one row per outcome, all stamped with the batch's
// start time.
func (h *History) RecordBatch(runAt time.Time, outcomes []FileOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	runs := make([]FileRun, 0, len(outcomes))
	for _, o := range outcomes {
		runs = append(runs, FileRun{
			RunAt:         runAt.UTC(),
			File:          o.File,
			Success:       o.Success(),
			TablesWritten: o.TablesWritten(),
			SensorRows:    o.Accelerometer.Rows + o.Gyroscope.Rows,
			RecordRows:    o.Records.Rows,
			SelfReports:   o.SelfReports.Rows,
			ElapsedMS:     o.Elapsed.Milliseconds(),
			LastError:     o.Err(),
		})
	}
	return h.db.Create(&runs).Error
}

// Runs returns every recorded row for a given batch start time, ordered by
// file.
func (h *History) Runs(runAt time.Time) ([]FileRun, error) {
	var runs []FileRun
	err := h.db.Where("run_at = ?", runAt.UTC()).Order("file").Find(&runs).Error
	return runs, err
}

func appendHistory(path string, runAt time.Time, outcomes []FileOutcome) error {
	h, err := OpenHistory(path)
	if err != nil {
		return err
	}
	return h.RecordBatch(runAt, outcomes)
}
