package cloudsync

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the observable state of the engine.
type Status struct {
	IsOnline          bool       `json:"isOnline"`
	IsSyncing         bool       `json:"isSyncing"`
	LastSyncTime      *time.Time `json:"lastSyncTime"`
	PendingOperations int        `json:"pendingOperations"`
	Error             string     `json:"-"`
	AuthRequired      bool       `json:"authRequired"`
}

// MarshalJSON renders an empty Error as null.
func (s Status) MarshalJSON() ([]byte, error) {
	type alias Status
	var errPtr *string
	if s.Error != "" {
		errPtr = &s.Error
	}
	return json.Marshal(struct {
		alias
		Error *string `json:"error"`
	}{alias(s), errPtr})
}

// Level classifies a status for display.
type Level string

const (
	LevelError   Level = "error"
	LevelOffline Level = "offline"
	LevelSyncing Level = "syncing"
	LevelPending Level = "pending"
	LevelOK      Level = "ok"
)

// Level returns the display level; errors win over everything else.
func (s Status) Level() Level {
	switch {
	case s.Error != "":
		return LevelError
	case !s.IsOnline:
		return LevelOffline
	case s.IsSyncing:
		return LevelSyncing
	case s.PendingOperations > 0:
		return LevelPending
	}
	return LevelOK
}

// Text returns the one-line status shown next to the library.
func (s Status) Text(now time.Time) string {
	if !s.IsOnline {
		return "Offline"
	}
	if s.IsSyncing {
		return "Syncing..."
	}
	if s.PendingOperations > 0 {
		return fmt.Sprintf("%d pending", s.PendingOperations)
	}
	if s.LastSyncTime == nil {
		return "Not synced"
	}

	minutes := int(now.Sub(*s.LastSyncTime) / time.Minute)
	switch {
	case minutes < 1:
		return "Just synced"
	case minutes < 60:
		return fmt.Sprintf("%dm ago", minutes)
	case minutes < 1440:
		return fmt.Sprintf("%dh ago", minutes/60)
	}
	return fmt.Sprintf("%dd ago", minutes/1440)
}
