package influx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/q2demo/demorec/internal/config"
	"github.com/q2demo/demorec/internal/demofile"
	"github.com/q2demo/demorec/internal/recorder"
)

func testStats() recorder.Stats {
	return recorder.Stats{
		ID:            uuid.MustParse("3b241101-e2bb-4255-8caf-4136c566a962"),
		Name:          "demos/duel.dm2",
		Format:        demofile.FormatExtended,
		Started:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		FramesWritten: 100,
		FramesDropped: 3,
		Bytes:         4096,
	}
}

func testConfig(url string) config.InfluxConfig {
	host, port, _ := strings.Cut(strings.TrimPrefix(url, "http://"), ":")
	return config.InfluxConfig{
		Enabled:  true,
		Protocol: "http",
		Host:     host,
		Port:     port,
		Org:      "demorec",
		Bucket:   "demo_recordings",
	}
}

func TestConnectDisabled(t *testing.T) {
	m := NewManager(config.InfluxConfig{}, zerolog.Nop(), "")
	assert.ErrorIs(t, m.Connect(context.Background()), ErrDisabled)
}

func TestBackupWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	backup := filepath.Join(t.TempDir(), "influx_backup.log.gz")
	m := NewManager(testConfig(srv.URL), zerolog.Nop(), backup)
	require.NoError(t, m.Connect(context.Background()))
	assert.False(t, m.IsValid)

	require.NoError(t, m.WriteRecording(context.Background(), testStats()))
	require.NoError(t, m.Close())

	f, err := os.Open(backup)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)

	line := string(data)
	assert.True(t, strings.HasPrefix(line, "recording,format=extended,session=3b241101-e2bb-4255-8caf-4136c566a962 "))
	assert.Contains(t, line, "frames_written=100i")
	assert.Contains(t, line, "frames_dropped=3i")
	assert.Contains(t, line, "duration_ms=10000i")
	assert.True(t, strings.HasSuffix(line, " 1714564800000000000\n"))
	assert.Equal(t, 1, strings.Count(line, "\n"), "one line per point")
}

func TestWriteRecordingLive(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
		query  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/write" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		query = r.URL.RawQuery
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	m := NewManager(cfg, zerolog.Nop(), "")
	m.Client = influxdb2.NewClient(cfg.URL(), "token")
	m.CreateWriter()
	m.IsValid = true
	defer m.Close()

	require.NoError(t, m.WriteRecording(context.Background(), testStats()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1)
	assert.Contains(t, bodies[0], "recording,format=extended")
	assert.Contains(t, bodies[0], `name="demos/duel.dm2"`)
	assert.Contains(t, query, "bucket=demo_recordings")
	assert.Contains(t, query, "org=demorec")
}

func TestWritePointWithoutBackup(t *testing.T) {
	m := NewManager(config.InfluxConfig{}, zerolog.Nop(), "")
	assert.Error(t, m.WriteRecording(context.Background(), testStats()))
}
