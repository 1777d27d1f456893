//go:build !js && !wasm
// +build !js,!wasm

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "earpeace.sqlite3"
const errDBClientNil = "db client is nil"

// DBClient is the reference catalog: one row per reference with its
// lifecycle status and where its index blob lives.
type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

type Reference struct {
	Key           string    `gorm:"primaryKey;type:varchar(255)" json:"key"`
	Title         string    `json:"title"`
	SourcePath    string    `json:"source_path,omitempty"`
	WAVPath       string    `gorm:"column:wav_path" json:"wav_path,omitempty"`
	IndexLocation string    `json:"index_location,omitempty"`
	Status        Status    `gorm:"type:varchar(16);index:idx_reference_status" json:"status"`
	DurationMs    int       `json:"duration_ms"`
	HashCount     int       `json:"hash_count"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Reference) TableName() string { return "references" }

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Reference{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *DBClient) ok() error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return nil
}

// UpsertReference creates key as pending, or refreshes its title and source
// on an existing row without touching its status.
func (c *DBClient) UpsertReference(key, title, sourcePath string) (*Reference, error) {
	if err := c.ok(); err != nil {
		return nil, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("reference key is empty")
	}

	var ref Reference
	err := c.DB.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("key = ?", key).First(&ref).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ref = Reference{Key: key, Title: title, SourcePath: sourcePath, Status: StatusPending}
			return tx.Create(&ref).Error
		}
		if err != nil {
			return err
		}

		updates := map[string]any{}
		if title != "" {
			updates["title"] = title
		}
		if sourcePath != "" {
			updates["source_path"] = sourcePath
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&ref).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("key = ?", key).First(&ref).Error
	})
	if err != nil {
		return nil, fmt.Errorf("upserting reference %s: %w", key, err)
	}
	return &ref, nil
}

func (c *DBClient) GetReference(key string) (*Reference, error) {
	if err := c.ok(); err != nil {
		return nil, err
	}
	var ref Reference
	err := c.DB.Where("key = ?", key).First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrReferenceNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("querying reference %s: %w", key, err)
	}
	return &ref, nil
}

func (c *DBClient) ListReferences() ([]Reference, error) {
	if err := c.ok(); err != nil {
		return nil, err
	}
	var refs []Reference
	if err := c.DB.Order("key").Find(&refs).Error; err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}
	return refs, nil
}

func (c *DBClient) ListByStatus(status Status) ([]Reference, error) {
	if err := c.ok(); err != nil {
		return nil, err
	}
	var refs []Reference
	if err := c.DB.Where("status = ?", status).Order("key").Find(&refs).Error; err != nil {
		return nil, fmt.Errorf("listing %s references: %w", status, err)
	}
	return refs, nil
}

// CountByStatus returns the number of references in each status; statuses
// with no rows are reported as zero.
func (c *DBClient) CountByStatus() (map[Status]int64, error) {
	if err := c.ok(); err != nil {
		return nil, err
	}

	var rows []struct {
		Status Status
		Count  int64
	}
	err := c.DB.Model(&Reference{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting references: %w", err)
	}

	counts := make(map[Status]int64, len(AllStatuses))
	for _, s := range AllStatuses {
		counts[s] = 0
	}
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// SetStatus moves key to status, rejecting moves the lifecycle does not allow.
func (c *DBClient) SetStatus(key string, to Status) error {
	return c.transition(key, to, nil)
}

func (c *DBClient) MarkDownloaded(key, sourcePath string) error {
	return c.transition(key, StatusDownloaded, map[string]any{"source_path": sourcePath})
}

func (c *DBClient) MarkPrepared(key, wavPath string, durationMs int) error {
	return c.transition(key, StatusPrepared, map[string]any{
		"wav_path":    wavPath,
		"duration_ms": durationMs,
	})
}

// MarkIndexed records the published blob location and moves key to indexed.
func (c *DBClient) MarkIndexed(key, location string, hashCount int) error {
	return c.transition(key, StatusIndexed, map[string]any{
		"index_location": location,
		"hash_count":     hashCount,
	})
}

func (c *DBClient) MarkFailed(key string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return c.transition(key, StatusFailed, map[string]any{"last_error": msg})
}

func (c *DBClient) transition(key string, to Status, fields map[string]any) error {
	if err := c.ok(); err != nil {
		return err
	}
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}

	return c.DB.Transaction(func(tx *gorm.DB) error {
		var ref Reference
		err := tx.Where("key = ?", key).First(&ref).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrReferenceNotFound, key)
		}
		if err != nil {
			return fmt.Errorf("querying reference %s: %w", key, err)
		}

		if !ValidTransition(ref.Status, to) {
			return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, ref.Status, to, key)
		}

		updates := map[string]any{"status": to}
		for k, v := range fields {
			updates[k] = v
		}
		if to != StatusFailed {
			updates["last_error"] = ""
		}
		if err := tx.Model(&ref).Updates(updates).Error; err != nil {
			return fmt.Errorf("updating reference %s: %w", key, err)
		}
		return nil
	})
}

func (c *DBClient) DeleteReference(key string) error {
	if err := c.ok(); err != nil {
		return err
	}
	res := c.DB.Where("key = ?", key).Delete(&Reference{})
	if res.Error != nil {
		return fmt.Errorf("deleting reference %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrReferenceNotFound, key)
	}
	return nil
}
