// Package catalog caches demo metadata and recording statistics in a SQL
// database.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/q2demo/demorec/internal/config"
	"github.com/q2demo/demorec/internal/demofile"
	"github.com/q2demo/demorec/internal/demofs"
	"github.com/q2demo/demorec/internal/recorder"
)

// ErrUnsupportedType is returned for unknown catalog.type values.
var ErrUnsupportedType = errors.New("unsupported catalog type")

// Catalog stores demo metadata.
type Catalog struct {
	DB     *gorm.DB
	Logger zerolog.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(cfg config.CatalogConfig, log zerolog.Logger) (*Catalog, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Type {
	case "sqlite", "":
		db, err = GetSqliteDB(cfg.Path)
	case "postgres":
		db, err = GetPostgresDB(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s catalog: %w", cfg.Type, err)
	}

	c := &Catalog{DB: db, Logger: log}
	if err := c.Setup(); err != nil {
		return nil, err
	}
	return c, nil
}

// GetPostgresDB returns a connection to the Postgres database at dsn.
func GetPostgresDB(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
}

// GetSqliteDB returns a connection to a SQLite database. If path is empty,
// uses an in-memory database.
func GetSqliteDB(path string) (*gorm.DB, error) {
	dsn := "file::memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		dsn = path
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	// in-memory databases exist per connection
	if path == "" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA temp_store = MEMORY;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}
	return db, nil
}

// Setup migrates the tables.
func (c *Catalog) Setup() error {
	c.Logger.Debug().Str("dialect", c.DB.Dialector.Name()).Msg("Migrating catalog schema")
	if err := c.DB.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("failed to migrate catalog schema: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (c *Catalog) Close() error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Inspect reads the header of the demo at path.
func Inspect(path string) (Demo, error) {
	d := Demo{
		Path:        path,
		Compression: demofs.CompressionFor(path).String(),
	}

	st, err := os.Stat(path)
	if err != nil {
		return d, err
	}
	d.ModTime = st.ModTime().UTC()
	d.FileSize = st.Size()

	f, err := demofs.Open(path)
	if err != nil {
		return d, err
	}
	defer f.Close()
	d.Size = f.Size()

	format, err := demofile.DetectFormat(f)
	if err != nil {
		return d, err
	}
	d.Format = format.String()

	if _, err := f.Seek(0, 0); err != nil {
		return d, err
	}
	info, err := demofile.ReadInfo(f)
	if err != nil {
		return d, err
	}
	d.Map = info.Map
	d.POV = info.POV
	d.MVD = info.MVD
	return d, nil
}

// ScanResult counts what a scan did.
type ScanResult struct {
	Added     int
	Updated   int
	Unchanged int
	Failed    int
}

// Scan inspects every demo below dir and upserts the rows. Files whose
// modification time and size are unchanged are skipped.
func (c *Catalog) Scan(ctx context.Context, dir string) (ScanResult, error) {
	var res ScanResult

	paths, err := demofs.List(dir)
	if err != nil {
		return res, fmt.Errorf("listing demos: %w", err)
	}

	known := make(map[string]Demo, len(paths))
	var existing []Demo
	if err := c.DB.WithContext(ctx).Where("path IN ?", paths).Find(&existing).Error; err != nil {
		return res, fmt.Errorf("loading catalog: %w", err)
	}
	for _, d := range existing {
		known[d.Path] = d
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		prev, seen := known[path]
		if seen {
			if st, err := os.Stat(path); err == nil && unchanged(st, prev) {
				res.Unchanged++
				continue
			}
		}

		d, err := Inspect(path)
		if err != nil {
			c.Logger.Warn().Err(err).Str("path", path).Msg("Couldn't read demo")
			d.ScanError = err.Error()
			res.Failed++
		} else if seen {
			res.Updated++
		} else {
			res.Added++
		}

		err = c.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{"updated_at", "map", "pov", "mvd", "format", "compression", "size", "file_size", "mod_time", "scan_error"}),
		}).Create(&d).Error
		if err != nil {
			return res, fmt.Errorf("saving %s: %w", path, err)
		}
	}

	c.Logger.Info().
		Str("dir", dir).
		Int("added", res.Added).
		Int("updated", res.Updated).
		Int("unchanged", res.Unchanged).
		Int("failed", res.Failed).
		Msg("Scanned demos")
	return res, nil
}

func unchanged(st os.FileInfo, d Demo) bool {
	return st.Size() == d.FileSize && st.ModTime().UTC().Equal(d.ModTime.UTC())
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Map string
	POV string
}

// List returns the readable demos ordered by path.
func (c *Catalog) List(ctx context.Context, f Filter) ([]Demo, error) {
	q := c.DB.WithContext(ctx).Where("scan_error = ?", "")
	if f.Map != "" {
		q = q.Where("map = ?", f.Map)
	}
	if f.POV != "" {
		q = q.Where("pov = ?", f.POV)
	}

	var demos []Demo
	if err := q.Order("path").Find(&demos).Error; err != nil {
		return nil, err
	}
	return demos, nil
}

// WriteRecording stores the statistics of a stopped recording.
func (c *Catalog) WriteRecording(ctx context.Context, st recorder.Stats) error {
	summary, err := json.Marshal(map[string]any{
		"status":   recorder.FormatStatus(st),
		"duration": st.Duration().String(),
	})
	if err != nil {
		return err
	}

	rec := Recording{
		SessionID:       st.ID.String(),
		Name:            st.Name,
		Format:          st.Format.String(),
		Started:         st.Started.UTC(),
		FramesWritten:   st.FramesWritten,
		FramesDropped:   st.FramesDropped,
		MessagesDropped: st.MessagesDropped,
		Bytes:           st.Bytes,
		Summary:         datatypes.JSON(summary),
	}
	if err := c.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("saving recording: %w", err)
	}
	c.Logger.Debug().Str("session", rec.SessionID).Msg("Saved recording statistics")
	return nil
}

// Recordings returns recording statistics, newest first.
func (c *Catalog) Recordings(ctx context.Context, since time.Time) ([]Recording, error) {
	var recs []Recording
	err := c.DB.WithContext(ctx).Where("started >= ?", since.UTC()).Order("started desc").Find(&recs).Error
	return recs, err
}

var _ recorder.StatsSink = (*Catalog)(nil)
