package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthscan/healthscan/internal/model"
)

// PatientRepository wraps all SQL touching the patients table. It only
// inserts and lists; records are never updated or deleted.
type PatientRepository struct {
	pool *pgxpool.Pool
}

// NewPatientRepository constructs a repository.
func NewPatientRepository(pool *pgxpool.Pool) *PatientRepository {
	return &PatientRepository{pool: pool}
}

// Create inserts rec and fills in the id and creation time assigned by the
// database.
func (r *PatientRepository) Create(ctx context.Context, rec *model.PatientRecord) error {
	var symptoms *string
	if rec.Symptoms != "" {
		symptoms = &rec.Symptoms
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO patients (name, dob, age, gender, symptoms, diagnosis, filepath, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id, created_at
	`, rec.Name, rec.DateOfBirth, rec.Age, rec.Gender, symptoms, string(rec.Diagnosis), rec.ImagePath, time.Now().UTC())
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

// ListAll returns every stored record ordered by id.
func (r *PatientRepository) ListAll(ctx context.Context) ([]model.PatientRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, dob, age, gender, symptoms, diagnosis, filepath, created_at
		FROM patients ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("select patients: %w", err)
	}
	defer rows.Close()

	var out []model.PatientRecord
	for rows.Next() {
		var (
			rec      model.PatientRecord
			symptoms sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.DateOfBirth, &rec.Age, &rec.Gender, &symptoms, &rec.Diagnosis, &rec.ImagePath, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		rec.Symptoms = symptoms.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patients: %w", err)
	}
	return out, nil
}
