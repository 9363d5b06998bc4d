package domain

const (
	FieldSubjects  = "subjects"
	FieldAuxiliary = "auxiliary"

	MatchPrefix   = "prefix"
	MatchContains = "contains"
)

// LabelRule maps marker prefixes in a response line to a record field.
type LabelRule struct {
	Field    string   `yaml:"field"`
	Prefixes []string `yaml:"prefixes"`
	Match    string   `yaml:"match,omitempty"`
}

// Profile describes how one client's conversations are classified.
type Profile struct {
	Name         string      `yaml:"name"`
	Model        string      `yaml:"model"`
	SystemPrompt string      `yaml:"system_prompt"`
	UserPrefix   string      `yaml:"user_prefix"`
	Rules        []LabelRule `yaml:"rules"`
	// Dimension enables the (dimension, label) table when set; the value is
	// the label used for records without an auxiliary marker.
	Dimension string `yaml:"dimension_fallback,omitempty"`
}

func (p Profile) HasDimension() bool {
	if p.Dimension == "" {
		return false
	}
	for _, rule := range p.Rules {
		if rule.Field == FieldAuxiliary {
			return true
		}
	}
	return false
}
