// Package influx reports recording statistics to InfluxDB, falling back to
// a gzipped line protocol file when the server is unreachable.
package influx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/q2demo/demorec/internal/config"
	"github.com/q2demo/demorec/internal/recorder"
)

// MeasurementRecording is the measurement of recording statistic points.
const MeasurementRecording = "recording"

// RetentionDays is how long created buckets keep data.
const RetentionDays = 90

// ErrDisabled is returned by Connect when influx.enabled is false.
var ErrDisabled = errors.New("influx.enabled is false")

// Manager handles InfluxDB connections and writes.
type Manager struct {
	Client       influxdb2.Client
	Writer       influxdb2_api.WriteAPIBlocking
	BackupWriter *gzip.Writer
	IsValid      bool
	Config       config.InfluxConfig
	Logger       zerolog.Logger
	BackupPath   string

	mu         sync.Mutex
	backupFile io.Closer
}

// NewManager creates a new InfluxDB manager.
func NewManager(cfg config.InfluxConfig, log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		Config:     cfg,
		Logger:     log,
		BackupPath: backupPath,
	}
}

// Connect establishes a connection to InfluxDB. If the server doesn't
// answer, points go to the backup file instead.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.Config.Enabled {
		return ErrDisabled
	}

	m.Client = influxdb2.NewClientWithOptions(
		m.Config.URL(),
		m.Config.Token,
		influxdb2.DefaultOptions().
			SetHTTPRequestTimeout(10),
	)

	// validate client connection health
	running, err := m.Client.Ping(ctx)
	if err != nil || !running {
		m.IsValid = false
		m.Logger.Info().Err(err).Str("backupPath", m.BackupPath).
			Msg("Failed to initialize InfluxDB client, writing to backup file")
		if err := m.openBackup(); err != nil {
			return err
		}
		return nil
	}

	if err := m.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}
	m.CreateWriter()
	m.IsValid = true
	m.Logger.Info().Str("url", m.Config.URL()).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter != nil {
		return nil
	}

	file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.BackupWriter = gzip.NewWriter(file)
	m.backupFile = file
	return nil
}

func (m *Manager) setupOrganizationAndBucket(ctx context.Context) error {
	orgName := m.Config.Org

	// ensure org exists
	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		influxOrg, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	bucket := m.Config.Bucket
	if _, err = m.Client.BucketsAPI().FindBucketByName(ctx, bucket); err == nil {
		return nil
	}

	m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")
	rule := domain.RetentionRuleTypeExpire
	_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, bucket, domain.RetentionRule{
		Type:         &rule,
		EverySeconds: 60 * 60 * 24 * RetentionDays,
	})
	if err != nil {
		m.Logger.Error().Err(err).Str("bucket", bucket).Msg("Error creating bucket")
		return err
	}
	return nil
}

// CreateWriter creates the write API for the configured bucket.
func (m *Manager) CreateWriter() {
	m.Logger.Trace().Str("bucket", m.Config.Bucket).Msg("Creating InfluxDB writer")
	m.Writer = m.Client.WriteAPIBlocking(m.Config.Org, m.Config.Bucket)
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(ctx context.Context, point *influxdb2_write.Point) error {
	if m.IsValid {
		if m.Writer == nil {
			return fmt.Errorf("influxDB bucket '%s' not registered", m.Config.Bucket)
		}
		return m.Writer.WritePoint(ctx, point)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter == nil {
		return errors.New("influxDB client not initialized and backup writer not available")
	}

	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.BackupWriter.Write([]byte(lineProtocol)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// RecordingPoint converts recording statistics to a point.
func RecordingPoint(st recorder.Stats) *influxdb2_write.Point {
	return influxdb2_write.NewPoint(
		MeasurementRecording,
		map[string]string{
			"format":  st.Format.String(),
			"session": st.ID.String(),
		},
		map[string]any{
			"name":             st.Name,
			"frames_written":   st.FramesWritten,
			"frames_dropped":   st.FramesDropped,
			"messages_dropped": st.MessagesDropped,
			"bytes":            st.Bytes,
			"duration_ms":      st.Duration().Milliseconds(),
		},
		st.Started,
	)
}

// WriteRecording stores the statistics of a stopped recording.
func (m *Manager) WriteRecording(ctx context.Context, st recorder.Stats) error {
	return m.WritePoint(ctx, RecordingPoint(st))
}

// Close flushes the backup file and closes the client.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.BackupWriter != nil {
		errs = append(errs, m.BackupWriter.Close())
		m.BackupWriter = nil
	}
	if m.backupFile != nil {
		errs = append(errs, m.backupFile.Close())
		m.backupFile = nil
	}
	if m.Client != nil {
		m.Client.Close()
	}
	return errors.Join(errs...)
}

var _ recorder.StatsSink = (*Manager)(nil)
