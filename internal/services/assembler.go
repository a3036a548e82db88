package services

import (
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"clinical-rag/internal/models"
)

// ContextAssembler packs ranked candidates into a bounded textual context.
// Candidates are included whole, in the order given, until the next one
// would exceed the character budget; nothing is ever cut mid-excerpt.
// Assemble is a pure function of its inputs and the budget.
type ContextAssembler struct {
	budget int
	logger *log.Logger
	now    func() time.Time
}

// NewContextAssembler creates an assembler with the given character budget.
func NewContextAssembler(budgetChars int, logger *log.Logger) *ContextAssembler {
	if budgetChars <= 0 {
		budgetChars = 16000
	}
	return &ContextAssembler{budget: budgetChars, logger: logger, now: time.Now}
}

// Assemble builds the context for one exchange. The patient header is
// always attempted first; each candidate block carries its source label so
// the generator can cite it and the response can attribute it.
func (a *ContextAssembler) Assemble(patient *models.Patient, candidates []*models.RetrievalCandidate) *models.AssembledContext {
	result := &models.AssembledContext{}

	var b strings.Builder
	used := 0

	header := a.patientHeader(patient)
	headerLen := utf8.RuneCountInString(header)
	if headerLen <= a.budget {
		b.WriteString(header)
		used += headerLen
	} else {
		result.Truncated = true
	}

	for i, c := range candidates {
		block := renderCandidate(c)
		blockLen := utf8.RuneCountInString(block)
		if used+blockLen > a.budget {
			result.Truncated = true
			if remaining := len(candidates) - i; remaining > 0 {
				a.logger.Printf("Context budget reached: %d of %d candidates excluded", remaining, len(candidates))
			}
			break
		}
		b.WriteString(block)
		used += blockLen
		result.Included = append(result.Included, c)
	}

	result.Text = b.String()
	result.TotalChars = used
	return result
}

func (a *ContextAssembler) patientHeader(patient *models.Patient) string {
	if patient == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("### Información Básica del Paciente\n")
	fmt.Fprintf(&b, "Nombre: %s\n", patient.FullName())
	fmt.Fprintf(&b, "Edad: %d años\n", patient.Age(a.now()))
	fmt.Fprintf(&b, "Género: %s\n", patient.Gender)
	fmt.Fprintf(&b, "Documento: %s (Tipo: %s)\n", patient.DocumentNumber, patient.DocumentType)
	return b.String()
}

// renderCandidate emits one attributable block:
//
//	[appointment #12 (2024-11-09), Dr. Ana Pérez (Cardiología)]
//	<excerpt>
func renderCandidate(c *models.RetrievalCandidate) string {
	var b strings.Builder
	b.WriteString("\n[")
	fmt.Fprintf(&b, "%s #%d", c.SourceType, c.SourceID)
	if c.OccurredAt != nil {
		fmt.Fprintf(&b, " (%s)", c.OccurredAt.Format("2006-01-02"))
	}
	if c.DoctorName != "" && c.SourceType == models.SourceAppointment {
		fmt.Fprintf(&b, ", Dr. %s", c.DoctorName)
		if c.SpecialtyName != "" {
			fmt.Fprintf(&b, " (%s)", c.SpecialtyName)
		}
	}
	b.WriteString("]\n")
	b.WriteString(c.Excerpt)
	b.WriteString("\n")
	return b.String()
}
