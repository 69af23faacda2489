package rules

// Method is the transformation applied to a detected entity.
type Method string

const (
	// MethodRedact removes the detected span entirely.
	MethodRedact Method = "redact"
	// MethodReplace substitutes the span with fixed or custom text.
	MethodReplace Method = "replace"
	// MethodMask partially obscures characters in the span.
	MethodMask Method = "mask"
	// MethodHash replaces the span with a derived digest.
	MethodHash Method = "hash"
)

// Valid reports whether m is one of the methods the engine understands.
func (m Method) Valid() bool {
	switch m {
	case MethodRedact, MethodReplace, MethodMask, MethodHash:
		return true
	}
	return false
}

// EntityRule configures detection and anonymization for one built-in entity
// type of the analysis engine (e.g. "EMAIL_ADDRESS", "PERSON", "CREDIT_CARD").
type EntityRule struct {
	Type              string `yaml:"type" mapstructure:"type" json:"type"`
	Enabled           bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Method            Method `yaml:"method" mapstructure:"method" json:"anonymization_method"`
	CustomReplacement string `yaml:"custom_replacement" mapstructure:"custom_replacement" json:"custom_replacement,omitempty"`
}

// PatternRule configures a user-defined regex detector evaluated by the
// analysis engine alongside its built-in recognizers.
type PatternRule struct {
	Name              string  `yaml:"name" mapstructure:"name" json:"name"`
	Pattern           string  `yaml:"pattern" mapstructure:"pattern" json:"pattern"`
	EntityType        string  `yaml:"entity_type" mapstructure:"entity_type" json:"entity_type"`
	Enabled           bool    `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	ConfidenceScore   float64 `yaml:"confidence_score" mapstructure:"confidence_score" json:"confidence_score"`
	Method            Method  `yaml:"method" mapstructure:"method" json:"anonymization_method"`
	CustomReplacement string  `yaml:"custom_replacement" mapstructure:"custom_replacement" json:"custom_replacement,omitempty"`
	Description       string  `yaml:"description" mapstructure:"description" json:"description,omitempty"`
}

// RuleSet is the full rule configuration the pipeline snapshots per run. The
// pipeline never mutates it; ownership stays with the configuration layer.
type RuleSet struct {
	Enabled             bool          `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Entities            []EntityRule  `yaml:"entities" mapstructure:"entities" json:"entities"`
	CustomPatterns      []PatternRule `yaml:"custom_patterns" mapstructure:"custom_patterns" json:"custom_patterns"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold" mapstructure:"confidence_threshold" json:"confidence_threshold"`
	Language            string        `yaml:"language" mapstructure:"language" json:"language"`
}

// Defaults returns the rule set shipped out of the box: the common PII
// entities enabled with conservative methods, no custom patterns.
func Defaults() RuleSet {
	return RuleSet{
		Enabled: true,
		Entities: []EntityRule{
			{Type: "PERSON", Enabled: true, Method: MethodReplace, CustomReplacement: "<PERSON>"},
			{Type: "EMAIL_ADDRESS", Enabled: true, Method: MethodMask},
			{Type: "PHONE_NUMBER", Enabled: true, Method: MethodMask},
			{Type: "CREDIT_CARD", Enabled: true, Method: MethodRedact},
			{Type: "IBAN_CODE", Enabled: true, Method: MethodRedact},
			{Type: "US_SSN", Enabled: true, Method: MethodRedact},
			{Type: "IP_ADDRESS", Enabled: false, Method: MethodReplace, CustomReplacement: "<IP>"},
			{Type: "LOCATION", Enabled: false, Method: MethodReplace, CustomReplacement: "<LOCATION>"},
			{Type: "CRYPTO", Enabled: false, Method: MethodRedact},
		},
		CustomPatterns:      nil,
		ConfidenceThreshold: 0.7,
		Language:            "en",
	}
}
