package models

import "time"

// DocumentType identifies the kind of identity document a patient presents.
type DocumentType string

const (
	DocumentNationalID DocumentType = "national-id"
	DocumentMinorID    DocumentType = "minor-id"
	DocumentForeignID  DocumentType = "foreign-id"
	DocumentPassport   DocumentType = "passport"
)

// documentTypeIDs maps the numeric ids used on the wire (and in the
// patients table) to document types.
var documentTypeIDs = map[int]DocumentType{
	1: DocumentNationalID,
	2: DocumentMinorID,
	3: DocumentForeignID,
	4: DocumentPassport,
}

// DocumentTypeFromID resolves a wire-level numeric id to a DocumentType.
func DocumentTypeFromID(id int) (DocumentType, bool) {
	t, ok := documentTypeIDs[id]
	return t, ok
}

// ID returns the numeric id stored in the patients table for this type,
// or 0 for an unknown type.
func (t DocumentType) ID() int {
	for id, dt := range documentTypeIDs {
		if dt == t {
			return id
		}
	}
	return 0
}

// Valid reports whether t is one of the known document types.
func (t DocumentType) Valid() bool {
	return t.ID() != 0
}

// Patient is the resolved identity of a patient plus the demographic
// fields the context assembler includes in the patient header. Rows are
// owned by the external record store; this engine only reads them.
type Patient struct {
	PatientID      int64        `json:"patient_id"`
	FirstName      string       `json:"first_name"`
	MiddleName     *string      `json:"middle_name,omitempty"`
	FirstSurname   string       `json:"first_surname"`
	SecondSurname  *string      `json:"second_surname,omitempty"`
	BirthDate      time.Time    `json:"birth_date"`
	Gender         string       `json:"gender"`
	DocumentType   DocumentType `json:"document_type"`
	DocumentNumber string       `json:"document_number"`
	Active         bool         `json:"active"`
	BloodType      *string      `json:"blood_type,omitempty"`
}

// FullName joins the non-empty name parts.
func (p *Patient) FullName() string {
	name := p.FirstName
	if p.MiddleName != nil && *p.MiddleName != "" {
		name += " " + *p.MiddleName
	}
	name += " " + p.FirstSurname
	if p.SecondSurname != nil && *p.SecondSurname != "" {
		name += " " + *p.SecondSurname
	}
	return name
}

// Age returns the patient's age in full years at the given date.
func (p *Patient) Age(at time.Time) int {
	years := at.Year() - p.BirthDate.Year()
	if at.Month() < p.BirthDate.Month() ||
		(at.Month() == p.BirthDate.Month() && at.Day() < p.BirthDate.Day()) {
		years--
	}
	return years
}
