package catalog

import (
	"time"

	"gorm.io/datatypes"
)

// Demo is one scanned demo file.
type Demo struct {
	ID          uint      `json:"id" gorm:"primarykey;autoIncrement"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Path        string    `json:"path" gorm:"uniqueIndex;size:1024"`
	Map         string    `json:"map" gorm:"index;size:64"`
	POV         string    `json:"pov" gorm:"size:64"`
	MVD         bool      `json:"mvd"`
	Format      string    `json:"format" gorm:"size:16"`
	Compression string    `json:"compression" gorm:"size:16"`
	// Size is the length of the demo stream, FileSize the bytes on disk.
	Size        int64     `json:"size"`
	FileSize    int64     `json:"fileSize"`
	ModTime     time.Time `json:"modTime"`
	// ScanError holds the reason the file could not be read. Unchanged
	// broken files are not read again on rescan.
	ScanError string `json:"scanError,omitempty"`
}

func (*Demo) TableName() string { return "demos" }

// Recording is the statistics of one finished recording session.
type Recording struct {
	ID              uint           `json:"id" gorm:"primarykey;autoIncrement"`
	CreatedAt       time.Time      `json:"createdAt"`
	SessionID       string         `json:"sessionId" gorm:"uniqueIndex;size:36"`
	Name            string         `json:"name" gorm:"size:1024"`
	Format          string         `json:"format" gorm:"size:16"`
	Started         time.Time      `json:"started" gorm:"index"`
	FramesWritten   int            `json:"framesWritten"`
	FramesDropped   int            `json:"framesDropped"`
	MessagesDropped int            `json:"messagesDropped"`
	Bytes           int64          `json:"bytes"`
	Summary         datatypes.JSON `json:"summary"`
}

func (*Recording) TableName() string { return "recordings" }

// Models lists every table the catalog migrates.
var Models = []any{
	&Demo{},
	&Recording{},
}
