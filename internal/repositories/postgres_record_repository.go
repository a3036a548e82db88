package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"clinical-rag/internal/models"
)

// PostgresRecordRepository implements PatientStore and RecordStore against
// the smart_health schema. Every record query is hard-scoped to the given
// patient id; cross-patient leakage is treated as a security defect, so the
// filter lives in the SQL, not in Go.
type PostgresRecordRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRecordRepository creates a repository over the given pool.
func NewPostgresRecordRepository(pool *pgxpool.Pool) *PostgresRecordRepository {
	return &PostgresRecordRepository{pool: pool}
}

// FindByDocument returns every patient row matching the document pair.
// Matching never crosses document types with the same number.
func (r *PostgresRecordRepository) FindByDocument(ctx context.Context, docType models.DocumentType, documentNumber string) ([]*models.Patient, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT patient_id, first_name, middle_name, first_surname, second_surname,
		        birth_date, gender, document_type_id, document_number, active, blood_type
		 FROM smart_health.patients
		 WHERE document_type_id = $1 AND document_number = $2`,
		docType.ID(), documentNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}
	defer rows.Close()

	var patients []*models.Patient
	for rows.Next() {
		var p models.Patient
		var docTypeID int
		if err := rows.Scan(
			&p.PatientID, &p.FirstName, &p.MiddleName, &p.FirstSurname, &p.SecondSurname,
			&p.BirthDate, &p.Gender, &docTypeID, &p.DocumentNumber, &p.Active, &p.BloodType,
		); err != nil {
			return nil, fmt.Errorf("failed to scan patient: %w", err)
		}
		p.DocumentType, _ = models.DocumentTypeFromID(docTypeID)
		patients = append(patients, &p)
	}
	return patients, rows.Err()
}

// SearchAppointments finds the patient's appointments closest to the query
// embedding, with the treating doctor and specialty joined in.
func (r *PostgresRecordRepository) SearchAppointments(ctx context.Context, patientID int64, queryEmbedding []float32, opts VectorSearchOptions) ([]*models.RetrievalCandidate, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT ON (a.appointment_id)
		        a.appointment_id,
		        a.patient_id,
		        a.reason,
		        a.appointment_date,
		        d.first_name || ' ' || d.last_name AS doctor_name,
		        COALESCE(s.specialty_name, ''),
		        COALESCE(d.medical_license_number, ''),
		        1 - (a.reason_embedding <=> $2) AS similarity
		 FROM smart_health.appointments a
		 INNER JOIN smart_health.doctors d ON a.doctor_id = d.doctor_id
		 LEFT JOIN smart_health.doctor_specialties ds
		        ON d.doctor_id = ds.doctor_id AND ds.is_active = TRUE
		 LEFT JOIN smart_health.specialties s ON ds.specialty_id = s.specialty_id
		 WHERE a.patient_id = $1
		   AND a.reason_embedding IS NOT NULL
		   AND a.reason IS NOT NULL
		   AND ($4 = 0 OR a.appointment_date >= NOW() - make_interval(years => $4))
		 ORDER BY a.appointment_id,
		          ds.certification_date DESC NULLS LAST,
		          a.reason_embedding <=> $2
		 LIMIT $3`,
		patientID, pgvector.NewVector(queryEmbedding), opts.Limit, opts.YearsBack,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search appointments: %w", err)
	}
	defer rows.Close()

	var candidates []*models.RetrievalCandidate
	for rows.Next() {
		c := &models.RetrievalCandidate{SourceType: models.SourceAppointment}
		var occurredAt time.Time
		if err := rows.Scan(
			&c.SourceID, &c.PatientID, &c.Excerpt, &occurredAt,
			&c.DoctorName, &c.SpecialtyName, &c.MedicalLicense, &c.Similarity,
		); err != nil {
			return nil, fmt.Errorf("failed to scan appointment candidate: %w", err)
		}
		c.OccurredAt = &occurredAt
		c.Similarity = clampSimilarity(c.Similarity)
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// SearchRecordSummaries finds the patient's medical-record summaries
// closest to the query embedding.
func (r *PostgresRecordRepository) SearchRecordSummaries(ctx context.Context, patientID int64, queryEmbedding []float32, opts VectorSearchOptions) ([]*models.RetrievalCandidate, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT medical_record_id, patient_id, summary_text, registration_datetime,
		        1 - (summary_embedding <=> $2) AS similarity
		 FROM smart_health.medical_records
		 WHERE patient_id = $1
		   AND summary_embedding IS NOT NULL
		   AND summary_text IS NOT NULL
		   AND ($4 = 0 OR registration_datetime >= NOW() - make_interval(years => $4))
		 ORDER BY summary_embedding <=> $2
		 LIMIT $3`,
		patientID, pgvector.NewVector(queryEmbedding), opts.Limit, opts.YearsBack,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search medical records: %w", err)
	}
	defer rows.Close()
	return scanPlainCandidates(rows, models.SourceRecordSummary)
}

// SearchDiagnoses finds the patient's diagnoses closest to the query
// embedding, dated by the medical record they belong to.
func (r *PostgresRecordRepository) SearchDiagnoses(ctx context.Context, patientID int64, queryEmbedding []float32, opts VectorSearchOptions) ([]*models.RetrievalCandidate, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT d.diagnosis_id, mr.patient_id,
		        d.icd_code || ' - ' || d.description AS excerpt,
		        mr.registration_datetime,
		        1 - (d.description_embedding <=> $2) AS similarity
		 FROM smart_health.diagnoses d
		 INNER JOIN smart_health.record_diagnoses rd ON d.diagnosis_id = rd.diagnosis_id
		 INNER JOIN smart_health.medical_records mr ON rd.medical_record_id = mr.medical_record_id
		 WHERE mr.patient_id = $1
		   AND d.description_embedding IS NOT NULL
		   AND d.description IS NOT NULL
		   AND ($4 = 0 OR mr.registration_datetime >= NOW() - make_interval(years => $4))
		 ORDER BY d.description_embedding <=> $2
		 LIMIT $3`,
		patientID, pgvector.NewVector(queryEmbedding), opts.Limit, opts.YearsBack,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search diagnoses: %w", err)
	}
	defer rows.Close()
	return scanPlainCandidates(rows, models.SourceDiagnosis)
}

// SearchPrescriptions finds the patient's prescriptions whose medication
// embedding is closest to the query embedding.
func (r *PostgresRecordRepository) SearchPrescriptions(ctx context.Context, patientID int64, queryEmbedding []float32, opts VectorSearchOptions) ([]*models.RetrievalCandidate, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.prescription_id, mr.patient_id,
		        m.commercial_name || ' - ' || COALESCE(p.dosage, '') || ' - ' || COALESCE(p.frequency, '') AS excerpt,
		        p.prescription_date,
		        1 - (m.medication_embedding <=> $2) AS similarity
		 FROM smart_health.prescriptions p
		 INNER JOIN smart_health.medical_records mr ON p.medical_record_id = mr.medical_record_id
		 INNER JOIN smart_health.medications m ON p.medication_id = m.medication_id
		 WHERE mr.patient_id = $1
		   AND m.medication_embedding IS NOT NULL
		   AND m.commercial_name IS NOT NULL
		   AND ($4 = 0 OR p.prescription_date >= NOW() - make_interval(years => $4))
		 ORDER BY m.medication_embedding <=> $2
		 LIMIT $3`,
		patientID, pgvector.NewVector(queryEmbedding), opts.Limit, opts.YearsBack,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search prescriptions: %w", err)
	}
	defer rows.Close()
	return scanPlainCandidates(rows, models.SourcePrescription)
}

// SearchDoctors scores the patient's treating doctors by their best
// appointment-reason similarity, so "who treated me for X" questions
// surface the right doctor and specialty.
func (r *PostgresRecordRepository) SearchDoctors(ctx context.Context, patientID int64, queryEmbedding []float32, opts VectorSearchOptions) ([]*models.RetrievalCandidate, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT d.doctor_id,
		        $1::bigint AS patient_id,
		        d.first_name || ' ' || d.last_name AS doctor_name,
		        COALESCE(s.specialty_name, ''),
		        COALESCE(d.medical_license_number, ''),
		        MAX(1 - (a.reason_embedding <=> $2)) AS similarity,
		        MAX(a.appointment_date) AS last_seen
		 FROM smart_health.appointments a
		 INNER JOIN smart_health.doctors d ON a.doctor_id = d.doctor_id
		 LEFT JOIN smart_health.doctor_specialties ds
		        ON d.doctor_id = ds.doctor_id AND ds.is_active = TRUE
		 LEFT JOIN smart_health.specialties s ON ds.specialty_id = s.specialty_id
		 WHERE a.patient_id = $1
		   AND a.reason_embedding IS NOT NULL
		   AND ($4 = 0 OR a.appointment_date >= NOW() - make_interval(years => $4))
		 GROUP BY d.doctor_id, d.first_name, d.last_name, s.specialty_name, d.medical_license_number
		 ORDER BY similarity DESC
		 LIMIT $3`,
		patientID, pgvector.NewVector(queryEmbedding), opts.Limit, opts.YearsBack,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search doctors: %w", err)
	}
	defer rows.Close()

	var candidates []*models.RetrievalCandidate
	for rows.Next() {
		c := &models.RetrievalCandidate{SourceType: models.SourceDoctor}
		var lastSeen time.Time
		if err := rows.Scan(
			&c.SourceID, &c.PatientID, &c.DoctorName, &c.SpecialtyName,
			&c.MedicalLicense, &c.Similarity, &lastSeen,
		); err != nil {
			return nil, fmt.Errorf("failed to scan doctor candidate: %w", err)
		}
		c.OccurredAt = &lastSeen
		c.Similarity = clampSimilarity(c.Similarity)
		c.Excerpt = c.DoctorName
		if c.SpecialtyName != "" {
			c.Excerpt += " (" + c.SpecialtyName + ")"
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// scanPlainCandidates handles the sources whose rows are
// (id, patient_id, excerpt, occurred_at, similarity).
func scanPlainCandidates(rows pgx.Rows, sourceType models.SourceType) ([]*models.RetrievalCandidate, error) {
	var candidates []*models.RetrievalCandidate
	for rows.Next() {
		c := &models.RetrievalCandidate{SourceType: sourceType}
		var occurredAt time.Time
		if err := rows.Scan(&c.SourceID, &c.PatientID, &c.Excerpt, &occurredAt, &c.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan %s candidate: %w", sourceType, err)
		}
		c.OccurredAt = &occurredAt
		c.Similarity = clampSimilarity(c.Similarity)
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// clampSimilarity maps 1 - cosine_distance (range -1..1) into 0..1.
func clampSimilarity(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
