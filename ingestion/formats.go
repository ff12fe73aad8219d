// Package ingestion turns university CSV exports and PDFs into typed text
// documents, splits them into overlapping chunks and feeds the vector index.
package ingestion

import (
	"path/filepath"
	"strings"

	"github.com/fabfab/campus-assistant/textnorm"
)

// DocumentFormat enumerates supported source file formats.
type DocumentFormat string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown DocumentFormat = ""
	// FormatCSV represents comma separated values exports.
	FormatCSV DocumentFormat = "csv"
	// FormatPDF represents PDF documents such as course syllabi.
	FormatPDF DocumentFormat = "pdf"
)

// DetectFormat infers a document format from the provided path's extension.
func DetectFormat(path string) DocumentFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".pdf":
		return FormatPDF
	default:
		return FormatUnknown
	}
}

// DocType is the category a document is tagged with and filtered on at query time.
type DocType string

const (
	TypeUnknown           DocType = ""
	TypeSyllabus          DocType = "syllabus"
	TypePromo             DocType = "promo"
	TypeSport             DocType = "deporte"
	TypeOrganization      DocType = "organization"
	TypePsychologistFAQ   DocType = "psychologist_faq"
	TypePsychologistNames DocType = "psychologist_names"
	TypeJobs              DocType = "empleos"
)

// Classify maps a source path to a DocType by looking for known substrings in
// its file name. Order matters: the FAQ check must run before the generic
// psychologist one.
func Classify(path string) DocType {
	name := textnorm.Fold(filepath.Base(path))

	containsAny := func(subs ...string) bool {
		for _, sub := range subs {
			if strings.Contains(name, sub) {
				return true
			}
		}
		return false
	}

	switch {
	case containsAny("syllabus", "silabo"):
		return TypeSyllabus
	case containsAny("promo"):
		return TypePromo
	case containsAny("deporte", "sport"):
		return TypeSport
	case containsAny("organiza"):
		return TypeOrganization
	case containsAny("psicolog", "psycholog") && containsAny("faq", "pregunta"):
		return TypePsychologistFAQ
	case containsAny("psicolog", "psycholog"):
		return TypePsychologistNames
	case containsAny("empleo", "job"):
		return TypeJobs
	default:
		return TypeUnknown
	}
}
