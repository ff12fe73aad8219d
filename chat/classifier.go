package chat

import (
	"strings"

	"github.com/fabfab/campus-assistant/textnorm"
)

// Classifier picks the doc_type a question should be searched under. An empty
// result searches every type.
type Classifier interface {
	Classify(question string) string
}

// Rule routes a question to DocType when it contains every word of All and,
// if Any is set, at least one word of Any. Words are compared folded.
type Rule struct {
	DocType string
	All     []string
	Any     []string
}

func (r Rule) matches(folded string) bool {
	for _, word := range r.All {
		if !strings.Contains(folded, textnorm.Fold(word)) {
			return false
		}
	}
	if len(r.Any) == 0 {
		return len(r.All) > 0
	}
	for _, word := range r.Any {
		if strings.Contains(folded, textnorm.Fold(word)) {
			return true
		}
	}
	return false
}

// DefaultRules is evaluated top to bottom; the first match wins.
var DefaultRules = []Rule{
	{DocType: "promo", All: []string{"promocion", "universidad"}},
	{DocType: "deporte", Any: []string{"deporte", "cancha", "futbol", "voley", "basquet", "piscina", "gimnasio", "tenis", "natacion"}},
	{DocType: "psychologist_faq", Any: []string{"cita psicolog", "terapia", "salud mental"}},
	{DocType: "psychologist_names", Any: []string{"psicolog"}},
	{DocType: "empleos", Any: []string{"empleo", "trabajo", "practicas", "postular"}},
	{DocType: "syllabus", Any: []string{"silabo", "syllabus", "bibliograf", "creditos", "sistema de evaluacion"}},
}

// KeywordClassifier applies an ordered list of Rules.
type KeywordClassifier struct {
	rules []Rule
}

// NewKeywordClassifier uses DefaultRules when rules is empty.
func NewKeywordClassifier(rules ...Rule) *KeywordClassifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &KeywordClassifier{rules: rules}
}

func (c *KeywordClassifier) Classify(question string) string {
	folded := textnorm.Fold(question)
	for _, rule := range c.rules {
		if rule.matches(folded) {
			return rule.DocType
		}
	}
	return ""
}
