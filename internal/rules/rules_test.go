package rules

import (
	"testing"
)

func validSet() RuleSet {
	return RuleSet{
		Enabled: true,
		Entities: []EntityRule{
			{Type: "PERSON", Enabled: true, Method: MethodReplace, CustomReplacement: "<PERSON>"},
			{Type: "EMAIL_ADDRESS", Enabled: true, Method: MethodMask},
			{Type: "CREDIT_CARD", Enabled: false, Method: MethodRedact},
		},
		CustomPatterns: []PatternRule{
			{Name: "employee-id", Pattern: `EMP-[0-9]{6}`, EntityType: "EMPLOYEE_ID", Enabled: true, ConfidenceScore: 0.9, Method: MethodRedact},
		},
		ConfidenceThreshold: 0.7,
		Language:            "en",
	}
}

func TestValidate(t *testing.T) {
	t.Run("ValidSet", func(t *testing.T) {
		if err := validSet().Validate(); err != nil {
			t.Fatalf("Valid rule set rejected: %v", err)
		}
	})

	t.Run("DuplicateEntity", func(t *testing.T) {
		rs := validSet()
		rs.Entities = append(rs.Entities, EntityRule{Type: "PERSON", Method: MethodRedact})
		if err := rs.Validate(); err == nil {
			t.Error("Duplicate entity type not rejected")
		}
	})

	t.Run("UnknownMethod", func(t *testing.T) {
		rs := validSet()
		rs.Entities[0].Method = "scramble"
		if err := rs.Validate(); err == nil {
			t.Error("Unknown anonymization method not rejected")
		}
	})

	t.Run("InvalidRegex", func(t *testing.T) {
		rs := validSet()
		rs.CustomPatterns[0].Pattern = "EMP-[0-9"
		if err := rs.Validate(); err == nil {
			t.Error("Invalid regex not rejected at validation time")
		}
	})

	t.Run("ConfidenceOutOfRange", func(t *testing.T) {
		rs := validSet()
		rs.CustomPatterns[0].ConfidenceScore = 1.5
		if err := rs.Validate(); err == nil {
			t.Error("Out-of-range confidence score not rejected")
		}
	})
}

func TestSnapshot(t *testing.T) {
	t.Run("ClampsThreshold", func(t *testing.T) {
		rs := validSet()
		rs.ConfidenceThreshold = 0
		if got := rs.Snapshot().ConfidenceThreshold; got != 0.7 {
			t.Errorf("Threshold not clamped: got %v", got)
		}

		rs.ConfidenceThreshold = 1.5
		if got := rs.Snapshot().ConfidenceThreshold; got != 0.7 {
			t.Errorf("Threshold not clamped: got %v", got)
		}
	})

	t.Run("DefaultsLanguage", func(t *testing.T) {
		rs := validSet()
		rs.Language = ""
		if got := rs.Snapshot().Language; got != "en" {
			t.Errorf("Language not defaulted: got %q", got)
		}
	})

	t.Run("IndependentCopy", func(t *testing.T) {
		rs := validSet()
		snap := rs.Snapshot()
		rs.Entities[0].Enabled = false
		if !snap.Entities[0].Enabled {
			t.Error("Snapshot aliases the original entity slice")
		}
	})
}

func TestEnabledEntities(t *testing.T) {
	rs := validSet()
	enabled := rs.EnabledEntities()
	if len(enabled) != 2 {
		t.Fatalf("Expected 2 enabled entities, got %d", len(enabled))
	}
	for _, entity := range enabled {
		if !entity.Enabled {
			t.Errorf("Disabled entity %s included", entity.Type)
		}
	}
}

func TestEffectivePatterns(t *testing.T) {
	t.Run("DropsDisabled", func(t *testing.T) {
		rs := validSet()
		rs.CustomPatterns[0].Enabled = false
		if got := rs.EffectivePatterns(nil); len(got) != 0 {
			t.Errorf("Disabled pattern included: %v", got)
		}
	})

	t.Run("DropsNonCompiling", func(t *testing.T) {
		rs := validSet()
		rs.CustomPatterns = append(rs.CustomPatterns, PatternRule{
			Name: "broken", Pattern: "[", EntityType: "X", Enabled: true, Method: MethodRedact,
		})
		got := rs.EffectivePatterns(nil)
		if len(got) != 1 || got[0].Name != "employee-id" {
			t.Errorf("Broken pattern not dropped: %v", got)
		}
	})
}

func TestFingerprint(t *testing.T) {
	t.Run("Stable", func(t *testing.T) {
		rs := validSet()
		if rs.Fingerprint() != rs.Fingerprint() {
			t.Error("Fingerprint not deterministic")
		}
	})

	t.Run("IgnoresDisabledRules", func(t *testing.T) {
		rs := validSet()
		base := rs.Fingerprint()
		rs.CustomPatterns[0].Enabled = false
		if rs.Fingerprint() == base {
			t.Error("Disabling a pattern did not change the fingerprint")
		}
	})

	t.Run("SensitiveToThreshold", func(t *testing.T) {
		rs := validSet()
		base := rs.Fingerprint()
		rs.ConfidenceThreshold = 0.9
		if rs.Fingerprint() == base {
			t.Error("Threshold change did not change the fingerprint")
		}
	})
}
