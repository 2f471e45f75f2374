// Package service contains the application-side state for roadwatch:
// the entries cache, staged photo storage, and the event bus that
// fans resource changes out to connected pages.
package service

// EntryForm is the editable surface of a report entry.
// Single source of truth: Huma reads tags for OpenAPI + validation,
// the humastar bridge reads tags for Datastar signal helpers + HTML
// forms.
//
// Custom tags:
//
//	signal:"name"              — override Datastar signal suffix (default: lowercase field name)
//	input:"textarea|select"    — force input type
//	card:"title|meta|badge|id" — card layout role (title, meta line, badge, root div id)
type EntryForm struct {
	Title       string `json:"title" required:"true" minLength:"3" maxLength:"120" doc:"Short summary of the defect" example:"Deep pothole near the crosswalk" card:"title"`
	Description string `json:"description,omitempty" maxLength:"2000" doc:"What you observed on the ground" input:"textarea"`
	Severity    string `json:"severity" required:"true" enum:"minor,major" default:"minor" doc:"How bad the damage is" example:"minor" card:"badge"`
	Type        string `json:"type,omitempty" enum:",alligator,longitudinal,transverse,pothole" doc:"Crack classification, set by detection when left empty" card:"meta"`
	Location    string `json:"location,omitempty" maxLength:"300" doc:"Address or place label" example:"Quirino Avenue, Paco, Manila" card:"meta"`
}

// PhotoFile describes a staged photo upload.
type PhotoFile struct {
	ID     string `json:"id" doc:"Storage handle" card:"id"`
	Name   string `json:"name" doc:"Original file name" example:"crack.jpg" card:"title"`
	Size   string `json:"size" doc:"Human-readable size" example:"1.2 MB" card:"meta"`
	Format string `json:"format" doc:"Image format" example:"jpeg" card:"badge"`
}

// ExportFile describes a generated PMTiles archive.
type ExportFile struct {
	Name string `json:"name" doc:"PMTiles file name" example:"entries.pmtiles"`
	Size string `json:"size" doc:"Human-readable file size" example:"5.4 MB"`
}
