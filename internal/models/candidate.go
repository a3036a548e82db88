package models

import "time"

// SourceType tags which record table a retrieval candidate came from.
type SourceType string

const (
	SourceAppointment   SourceType = "appointment"
	SourceDiagnosis     SourceType = "diagnosis"
	SourcePrescription  SourceType = "prescription"
	SourceRecordSummary SourceType = "record-summary"
	SourceDoctor        SourceType = "doctor"
	SourceSpecialty     SourceType = "specialty"
)

// sourceOrder fixes the enum order used as the final ranking tie-breaker.
var sourceOrder = map[SourceType]int{
	SourceAppointment:   0,
	SourceDiagnosis:     1,
	SourcePrescription:  2,
	SourceRecordSummary: 3,
	SourceDoctor:        4,
	SourceSpecialty:     5,
}

// Order returns the deterministic position of s in the source enum.
// Unknown types sort last.
func (s SourceType) Order() int {
	if o, ok := sourceOrder[s]; ok {
		return o
	}
	return len(sourceOrder)
}

// RetrievalCandidate is one scored record excerpt from a typed source.
// The store fills Similarity; the retriever fills RecencyWeight and
// CombinedScore. Candidates with the same (SourceType, SourceID) are
// deduplicated to the highest-scoring occurrence.
type RetrievalCandidate struct {
	SourceType    SourceType `json:"source_type"`
	SourceID      int64      `json:"source_id"`
	PatientID     int64      `json:"patient_id"`
	Excerpt       string     `json:"text_excerpt"`
	Similarity    float64    `json:"embedding_similarity"`
	RecencyWeight float64    `json:"recency_weight"`
	CombinedScore float64    `json:"combined_score"`
	OccurredAt    *time.Time `json:"occurred_at,omitempty"`

	// Treating-doctor metadata, present on appointment and doctor sources.
	DoctorName     string `json:"doctor_name,omitempty"`
	SpecialtyName  string `json:"specialty_name,omitempty"`
	MedicalLicense string `json:"medical_license,omitempty"`
}

// SourceRef is the machine-readable attribution carried on completed
// exchanges and outbound complete frames.
type SourceRef struct {
	SourceType    SourceType `json:"source_type"`
	SourceID      int64      `json:"source_id"`
	CombinedScore float64    `json:"combined_score"`
}

// Ref returns the attribution entry for c.
func (c *RetrievalCandidate) Ref() SourceRef {
	return SourceRef{
		SourceType:    c.SourceType,
		SourceID:      c.SourceID,
		CombinedScore: c.CombinedScore,
	}
}
