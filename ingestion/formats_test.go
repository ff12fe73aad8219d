package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatCSV, DetectFormat("data/promociones.CSV"))
	assert.Equal(t, FormatPDF, DetectFormat("syllabus/marketing.pdf"))
	assert.Equal(t, FormatUnknown, DetectFormat("notes.md"))
}

func TestClassify(t *testing.T) {
	cases := map[string]DocType{
		"data/syllabus_marketing.csv":           TypeSyllabus,
		"data/Sílabo Finanzas.pdf":              TypeSyllabus,
		"data/promociones_universidad.csv":      TypePromo,
		"data/DEPORTES.csv":                     TypeSport,
		"data/organizaciones_estudiantiles.csv": TypeOrganization,
		"data/psicologia_faq.csv":               TypePsychologistFAQ,
		"data/Psicólogos.csv":                   TypePsychologistNames,
		"data/empleos.csv":                      TypeJobs,
		"data/notas.csv":                        TypeUnknown,
	}

	for path, want := range cases {
		assert.Equal(t, want, Classify(path), path)
	}
}
