package services

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinical-rag/internal/models"
)

func setupAssembler(budget int) *ContextAssembler {
	a := NewContextAssembler(budget, testLogger())
	a.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	return a
}

func assemblerPatient() *models.Patient {
	return &models.Patient{
		PatientID:      7,
		FirstName:      "María",
		FirstSurname:   "García",
		BirthDate:      time.Date(1985, 3, 12, 0, 0, 0, 0, time.UTC),
		Gender:         "F",
		DocumentType:   models.DocumentNationalID,
		DocumentNumber: "30613036",
		Active:         true,
	}
}

func excerptCandidate(id int64, excerpt string) *models.RetrievalCandidate {
	occurred := time.Date(2024, 11, 9, 0, 0, 0, 0, time.UTC)
	return &models.RetrievalCandidate{
		SourceType:    models.SourceDiagnosis,
		SourceID:      id,
		PatientID:     7,
		Excerpt:       excerpt,
		Similarity:    0.9,
		CombinedScore: 0.9,
		OccurredAt:    &occurred,
	}
}

func TestAssemble_IncludesPatientHeader(t *testing.T) {
	assembler := setupAssembler(16000)

	result := assembler.Assemble(assemblerPatient(), nil)

	assert.Contains(t, result.Text, "Información Básica del Paciente")
	assert.Contains(t, result.Text, "María García")
	assert.Contains(t, result.Text, "Edad: 40 años")
	assert.Contains(t, result.Text, "30613036")
	assert.False(t, result.Truncated)
}

func TestAssemble_CandidateBlocksCarryAttribution(t *testing.T) {
	assembler := setupAssembler(16000)

	appt := &models.RetrievalCandidate{
		SourceType:    models.SourceAppointment,
		SourceID:      12,
		PatientID:     7,
		Excerpt:       "Control cardiológico sin novedades.",
		OccurredAt:    ts(2024, 11, 9),
		DoctorName:    "Ana Pérez",
		SpecialtyName: "Cardiología",
	}
	result := assembler.Assemble(assemblerPatient(), []*models.RetrievalCandidate{appt})

	assert.Contains(t, result.Text, "[appointment #12 (2024-11-09), Dr. Ana Pérez (Cardiología)]")
	assert.Contains(t, result.Text, "Control cardiológico sin novedades.")
	require.Len(t, result.Included, 1)
}

func TestAssemble_StopsAtBudgetWithoutSplitting(t *testing.T) {
	assembler := setupAssembler(400)

	// Each block is ~120 runes; the third one exceeds the budget after the
	// header and must be excluded whole.
	candidates := []*models.RetrievalCandidate{
		excerptCandidate(1, strings.Repeat("a", 100)),
		excerptCandidate(2, strings.Repeat("b", 100)),
		excerptCandidate(3, strings.Repeat("c", 100)),
	}

	result := assembler.Assemble(assemblerPatient(), candidates)

	assert.True(t, result.Truncated)
	assert.Len(t, result.Included, 2)
	assert.NotContains(t, result.Text, "ccc")
	assert.LessOrEqual(t, result.TotalChars, 400)
}

func TestAssemble_BudgetCountsRunesNotBytes(t *testing.T) {
	assembler := setupAssembler(16000)

	result := assembler.Assemble(assemblerPatient(), []*models.RetrievalCandidate{
		excerptCandidate(1, strings.Repeat("ñ", 50)),
	})

	assert.Equal(t, utf8.RuneCountInString(result.Text), result.TotalChars)
}

func TestAssemble_PreservesCandidateOrder(t *testing.T) {
	assembler := setupAssembler(16000)

	candidates := []*models.RetrievalCandidate{
		excerptCandidate(3, "tercero"),
		excerptCandidate(1, "primero"),
		excerptCandidate(2, "segundo"),
	}

	result := assembler.Assemble(assemblerPatient(), candidates)

	require.Len(t, result.Included, 3)
	assert.Equal(t, int64(3), result.Included[0].SourceID)
	assert.Equal(t, int64(1), result.Included[1].SourceID)
	assert.Equal(t, int64(2), result.Included[2].SourceID)
	assert.Less(t, strings.Index(result.Text, "tercero"), strings.Index(result.Text, "primero"))
}

func TestAssemble_Deterministic(t *testing.T) {
	assembler := setupAssembler(500)

	candidates := []*models.RetrievalCandidate{
		excerptCandidate(1, strings.Repeat("x", 80)),
		excerptCandidate(2, strings.Repeat("y", 80)),
		excerptCandidate(3, strings.Repeat("z", 80)),
	}

	first := assembler.Assemble(assemblerPatient(), candidates)
	second := assembler.Assemble(assemblerPatient(), candidates)

	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, first.TotalChars, second.TotalChars)
	assert.Equal(t, first.Truncated, second.Truncated)
}

func TestAssemble_EmptyCandidates(t *testing.T) {
	assembler := setupAssembler(16000)

	result := assembler.Assemble(assemblerPatient(), nil)

	assert.Empty(t, result.Included)
	assert.False(t, result.Truncated)
	assert.NotEmpty(t, result.Text)
	assert.Empty(t, result.SourceRefs())
}
