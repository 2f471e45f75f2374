// Package report models a road defect report as the user assembles
// it: the draft being filled in, the photo attached to it, and the
// wizard that walks the user from photo to submission.
package report

import "fmt"

// Severity grades how bad the reported damage is.
type Severity string

const (
	SeverityMinor Severity = "minor"
	SeverityMajor Severity = "major"
)

// Severities lists all valid severities in display order.
func Severities() []Severity {
	return []Severity{SeverityMinor, SeverityMajor}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityMinor || s == SeverityMajor
}

// ParseSeverity validates a wire value.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// DefectType classifies the road damage. The values match the classes
// the detection pipeline emits.
type DefectType string

const (
	DefectAlligator    DefectType = "alligator"
	DefectLongitudinal DefectType = "longitudinal"
	DefectTransverse   DefectType = "transverse"
	DefectPothole      DefectType = "pothole"
)

// DefectTypes lists all known defect types.
func DefectTypes() []DefectType {
	return []DefectType{DefectAlligator, DefectLongitudinal, DefectTransverse, DefectPothole}
}

// Valid reports whether d is a known defect type. The empty value is
// valid too: type is optional until detection has run.
func (d DefectType) Valid() bool {
	switch d {
	case "", DefectAlligator, DefectLongitudinal, DefectTransverse, DefectPothole:
		return true
	}
	return false
}

// ParseDefectType validates a wire value.
func ParseDefectType(s string) (DefectType, error) {
	d := DefectType(s)
	if !d.Valid() {
		return "", fmt.Errorf("unknown defect type %q", s)
	}
	return d, nil
}
