package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// LogFilePath builds the per-session log file path.
func LogFilePath(logsDir, program string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", program, sessionStart.Format("20060102_150405")),
	)
}
