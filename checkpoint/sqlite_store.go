package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// recordRow is the GORM model backing SQLiteStore.
type recordRow struct {
	ID        string `gorm:"primaryKey"`
	RunID     string `gorm:"index:idx_run_step"`
	Rank      int
	Step      int64 `gorm:"index:idx_run_step"`
	State     []byte
	CreatedAt time.Time
}

func (recordRow) TableName() string { return "checkpoints" }

// SQLiteStore persists records in a single SQLite database file. Row
// inserts are transactional, so a record is either fully committed or
// absent; latest resolution is a query for the highest step.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.AutoMigrate(&recordRow{}); err != nil {
		return nil, fmt.Errorf("migrate checkpoint schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}

	state, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("encode checkpoint state: %w", err)
	}

	row := recordRow{
		ID:        rec.ID,
		RunID:     rec.RunID,
		Rank:      rec.Rank,
		Step:      rec.Step,
		State:     state,
		CreatedAt: rec.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("write checkpoint record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Latest(ctx context.Context, runID string) (*Record, error) {
	var row recordRow
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("step DESC, created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint record: %w", err)
	}

	rec := &Record{
		ID:        row.ID,
		RunID:     row.RunID,
		Rank:      row.Rank,
		Step:      row.Step,
		CreatedAt: row.CreatedAt,
	}
	if len(row.State) > 0 {
		if err := json.Unmarshal(row.State, &rec.State); err != nil {
			return nil, fmt.Errorf("decode checkpoint state: %w", err)
		}
	}
	return rec, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

var _ Store = (*SQLiteStore)(nil)
