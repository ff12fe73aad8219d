package ingestion

import (
	"strings"

	"github.com/fabfab/campus-assistant/textnorm"
)

const (
	// Placeholder replaces any template field that is missing or blank in a row.
	Placeholder = "No disponible"

	// DefaultMaxFieldRunes bounds long free-text fields before they are embedded
	// into a template.
	DefaultMaxFieldRunes = 1000
)

// Field is one labelled line of a rendered document.
type Field struct {
	Label   string
	Aliases []string
	// Long fields are free text and get truncated.
	Long bool
	// Extra fields are only rendered when the source file has the column.
	Extra bool
}

// Template renders a CSV row of one DocType as readable text.
type Template struct {
	Type   DocType
	Fields []Field
}

var templates = map[DocType]Template{
	TypeSyllabus: {
		Type: TypeSyllabus,
		Fields: []Field{
			{Label: "Carrera", Aliases: []string{"departamento", "direccion"}},
			{Label: "Curso", Aliases: []string{"asignatura", "course"}},
			{Label: "Malla", Aliases: []string{"año", "plan"}, Extra: true},
			{Label: "Modalidad", Extra: true},
			{Label: "Créditos", Extra: true},
			{Label: "Objetivos", Long: true, Extra: true},
			{Label: "Competencias", Long: true, Extra: true},
			{Label: "Resultados de Aprendizaje", Long: true, Extra: true},
			{Label: "Temas", Long: true, Extra: true},
			{Label: "Sistema de Evaluación", Aliases: []string{"evaluacion"}, Long: true, Extra: true},
			{Label: "Referencias Bibliográficas", Aliases: []string{"bibliografia", "referencias"}, Long: true, Extra: true},
			{Label: "Contenido", Long: true, Extra: true},
		},
	},
	TypePromo: {
		Type: TypePromo,
		Fields: []Field{
			{Label: "Lugar", Aliases: []string{"local", "establecimiento"}},
			{Label: "Título", Aliases: []string{"promocion", "beneficio"}},
			{Label: "Descripción", Aliases: []string{"detalle"}, Long: true},
			{Label: "Categoría", Extra: true},
			{Label: "Vigencia", Aliases: []string{"fecha"}, Extra: true},
		},
	},
	TypeSport: {
		Type: TypeSport,
		Fields: []Field{
			{Label: "Deporte", Aliases: []string{"disciplina", "actividad"}},
			{Label: "Lugar", Aliases: []string{"sede", "instalacion"}},
			{Label: "Horario", Aliases: []string{"horarios"}},
			{Label: "Reserva", Aliases: []string{"como reservar", "reservas"}, Long: true},
			{Label: "Descripción", Long: true, Extra: true},
		},
	},
	TypeOrganization: {
		Type: TypeOrganization,
		Fields: []Field{
			{Label: "Nombre", Aliases: []string{"organizacion"}},
			{Label: "Tipo", Aliases: []string{"categoria"}},
			{Label: "Descripción", Long: true},
			{Label: "Contacto", Aliases: []string{"correo", "email"}},
		},
	},
	TypePsychologistFAQ: {
		Type: TypePsychologistFAQ,
		Fields: []Field{
			{Label: "Pregunta"},
			{Label: "Respuesta", Long: true},
		},
	},
	TypePsychologistNames: {
		Type: TypePsychologistNames,
		Fields: []Field{
			{Label: "Nombre", Aliases: []string{"psicologo", "psicologa"}},
			{Label: "Especialidad", Aliases: []string{"enfoque"}},
			{Label: "Horario", Aliases: []string{"horarios", "disponibilidad"}},
			{Label: "Contacto", Aliases: []string{"correo", "email"}},
		},
	},
	TypeJobs: {
		Type: TypeJobs,
		Fields: []Field{
			{Label: "Puesto", Aliases: []string{"cargo", "titulo"}},
			{Label: "Empresa"},
			{Label: "Descripción", Long: true},
			{Label: "Requisitos", Long: true},
			{Label: "Contacto", Aliases: []string{"postulacion", "correo", "email"}},
		},
	},
}

// TemplateFor returns the row template of a DocType.
func TemplateFor(docType DocType) (Template, bool) {
	tpl, ok := templates[docType]
	return tpl, ok
}

// columnIndex resolves every field to the CSV column that carries it, or -1.
func (t Template) columnIndex(headers []string) []int {
	folded := make([]string, len(headers))
	for i, header := range headers {
		folded[i] = textnorm.Fold(strings.TrimSpace(header))
	}

	index := make([]int, len(t.Fields))
	for i, field := range t.Fields {
		index[i] = -1
		names := append([]string{field.Label}, field.Aliases...)
	lookup:
		for _, name := range names {
			want := textnorm.Fold(name)
			for col, header := range folded {
				if header == want {
					index[i] = col
					break lookup
				}
			}
		}
	}
	return index
}

// Render produces the document text of one row. columns is the result of
// columnIndex for the row's header.
func (t Template) Render(columns []int, row []string, maxFieldRunes int) string {
	var sb strings.Builder
	for i, field := range t.Fields {
		col := columns[i]
		if col < 0 && field.Extra {
			continue
		}

		value := ""
		if col >= 0 && col < len(row) {
			value = textnorm.CollapseSpace(row[col])
		}
		if value == "" {
			value = Placeholder
		} else if field.Long {
			value = textnorm.Truncate(value, maxFieldRunes)
		}

		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(field.Label)
		sb.WriteString(": ")
		sb.WriteString(value)
	}
	return sb.String()
}
