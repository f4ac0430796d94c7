// Package model contains the record types shared by the HTTP layer, the
// stores, and the archive worker.
package model

import "time"

// Diagnosis is the label produced by the X-ray classifier. Only the two
// constants below are valid values.
type Diagnosis string

const (
	DiagnosisPneumonia Diagnosis = "Pneumonia Detected"
	DiagnosisNormal    Diagnosis = "No Pneumonia Detected"
)

// Valid reports whether d is one of the classifier labels.
func (d Diagnosis) Valid() bool {
	return d == DiagnosisPneumonia || d == DiagnosisNormal
}

// PatientRecord is one analyzed upload. Records are append-only: they are
// created once per successful analysis and never updated or deleted.
type PatientRecord struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DateOfBirth string `json:"dob"`
	// Age is the age at diagnosis time, derived from DateOfBirth when the
	// record is created. It is not recomputed later.
	Age       int       `json:"age"`
	Gender    string    `json:"gender"`
	Symptoms  string    `json:"symptoms"`
	Diagnosis Diagnosis `json:"diagnosis"`
	ImagePath string    `json:"filepath"`
	CreatedAt time.Time `json:"created_at"`
}
