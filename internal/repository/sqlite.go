package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/healthscan/healthscan/internal/model"
)

// SQLitePatientRepository stores patients in a local SQLite file. It is the
// default store when no PostgreSQL DSN is configured.
type SQLitePatientRepository struct {
	db *sql.DB
}

// NewSQLitePatientRepository constructs a repository over an open database.
func NewSQLitePatientRepository(db *sql.DB) *SQLitePatientRepository {
	return &SQLitePatientRepository{db: db}
}

// Create inserts rec and fills in its id and creation time.
func (r *SQLitePatientRepository) Create(ctx context.Context, rec *model.PatientRecord) error {
	var symptoms sql.NullString
	if rec.Symptoms != "" {
		symptoms = sql.NullString{String: rec.Symptoms, Valid: true}
	}
	created := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO patients (name, dob, age, gender, symptoms, diagnosis, filepath, created_at)
		VALUES (?,?,?,?,?,?,?,?)
	`, rec.Name, rec.DateOfBirth, rec.Age, rec.Gender, symptoms, string(rec.Diagnosis), rec.ImagePath, created.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert patient id: %w", err)
	}
	rec.ID = id
	rec.CreatedAt = created
	return nil
}

// ListAll returns every stored record ordered by id.
func (r *SQLitePatientRepository) ListAll(ctx context.Context) ([]model.PatientRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, dob, age, gender, symptoms, diagnosis, filepath, created_at
		FROM patients ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("select patients: %w", err)
	}
	defer rows.Close()

	out := []model.PatientRecord{}
	for rows.Next() {
		var (
			rec      model.PatientRecord
			symptoms sql.NullString
			created  string
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.DateOfBirth, &rec.Age, &rec.Gender, &symptoms, &rec.Diagnosis, &rec.ImagePath, &created); err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		rec.Symptoms = symptoms.String
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse created_at for patient %d: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patients: %w", err)
	}
	return out, nil
}
