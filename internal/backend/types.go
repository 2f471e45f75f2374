// Package backend is the typed HTTP client for the RoadWatch entries
// API: the service that stores reports, runs crack detection on the
// photos, and manages accounts.
package backend

import (
	"fmt"
	"time"

	"github.com/roadwatch/roadwatch/internal/geo"
)

// Detection status values reported for an entry's photo analysis.
const (
	DetectionPending    = "pending"
	DetectionProcessing = "processing"
	DetectionCompleted  = "completed"
)

// User is an account as the backend reports it.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// CrackTypeStat aggregates detections of one crack class.
type CrackTypeStat struct {
	Count         int     `json:"count"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// DetectionInfo summarizes the automated analysis of an entry photo.
type DetectionInfo struct {
	TotalCracks int                      `json:"total_cracks"`
	CrackTypes  map[string]CrackTypeStat `json:"crack_types,omitempty"`
	Status      string                   `json:"status"`
}

// Entry is a stored road defect report.
type Entry struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Description        string         `json:"description,omitempty"`
	Location           string         `json:"location,omitempty"`
	Coordinates        geo.Coordinate `json:"coordinates"`
	Severity           string         `json:"severity"`
	Type               string         `json:"type,omitempty"`
	ImageURL           string         `json:"image_url,omitempty"`
	ClassifiedImageURL string         `json:"classified_image_url,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          *time.Time     `json:"updated_at,omitempty"`
	User               User           `json:"user"`
	DetectionInfo      *DetectionInfo `json:"detection_info,omitempty"`
}

// Session is the result of a successful login or registration.
type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// EntryFilter narrows ListEntries. Zero values mean no constraint.
type EntryFilter struct {
	UserID   string
	Severity string
	Type     string
}

// APIError is a non-2xx response from the backend, preserved so
// handlers can relay the status instead of flattening everything
// into a 500.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: status %d", e.Status)
	}
	return fmt.Sprintf("backend: %s (status %d)", e.Message, e.Status)
}
