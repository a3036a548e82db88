package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDocumentTypeFromID(t *testing.T) {
	tests := []struct {
		id    int
		want  DocumentType
		valid bool
	}{
		{1, DocumentNationalID, true},
		{2, DocumentMinorID, true},
		{3, DocumentForeignID, true},
		{4, DocumentPassport, true},
		{0, "", false},
		{5, "", false},
		{-1, "", false},
	}

	for _, tt := range tests {
		got, ok := DocumentTypeFromID(tt.id)
		assert.Equal(t, tt.valid, ok, "id %d", tt.id)
		if tt.valid {
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.id, got.ID())
			assert.True(t, got.Valid())
		}
	}
}

func TestDocumentTypeValid_Unknown(t *testing.T) {
	assert.False(t, DocumentType("membership-card").Valid())
	assert.Equal(t, 0, DocumentType("membership-card").ID())
}

func TestFullName(t *testing.T) {
	middle := "José"
	second := "López"

	tests := []struct {
		name    string
		patient Patient
		want    string
	}{
		{
			"all parts",
			Patient{FirstName: "María", MiddleName: &middle, FirstSurname: "García", SecondSurname: &second},
			"María José García López",
		},
		{
			"required parts only",
			Patient{FirstName: "María", FirstSurname: "García"},
			"María García",
		},
		{
			"empty optional pointers",
			Patient{FirstName: "María", MiddleName: new(string), FirstSurname: "García", SecondSurname: new(string)},
			"María García",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.patient.FullName())
		})
	}
}

func TestAge(t *testing.T) {
	patient := Patient{BirthDate: time.Date(1985, 3, 12, 0, 0, 0, 0, time.UTC)}

	assert.Equal(t, 40, patient.Age(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 39, patient.Age(time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 40, patient.Age(time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)))
}

func TestSourceTypeOrder(t *testing.T) {
	assert.Less(t, SourceAppointment.Order(), SourceDiagnosis.Order())
	assert.Less(t, SourceDiagnosis.Order(), SourcePrescription.Order())
	assert.Less(t, SourcePrescription.Order(), SourceRecordSummary.Order())
	assert.Less(t, SourceRecordSummary.Order(), SourceDoctor.Order())
	// Unknown types always sort last.
	assert.Greater(t, SourceType("unknown").Order(), SourceSpecialty.Order())
}
