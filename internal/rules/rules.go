package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/securepaste/securepaste/internal/logger"
	"go.uber.org/zap"
)

// Validate checks structural validity of the rule set. It is called when
// configuration is loaded or edited, never during a pipeline run: a rule set
// that passes Validate can always be snapshotted and shipped to the engine.
func (rs RuleSet) Validate() error {
	seen := make(map[string]bool, len(rs.Entities))
	for _, entity := range rs.Entities {
		if strings.TrimSpace(entity.Type) == "" {
			return fmt.Errorf("entity rule with empty type")
		}
		if seen[entity.Type] {
			return fmt.Errorf("duplicate entity rule: %s", entity.Type)
		}
		seen[entity.Type] = true

		if !entity.Method.Valid() {
			return fmt.Errorf("entity %s: unknown anonymization method %q", entity.Type, entity.Method)
		}
	}

	for _, pattern := range rs.CustomPatterns {
		if strings.TrimSpace(pattern.Name) == "" {
			return fmt.Errorf("custom pattern with empty name")
		}
		if _, err := regexp.Compile(pattern.Pattern); err != nil {
			return fmt.Errorf("custom pattern %s: invalid regex: %w", pattern.Name, err)
		}
		if !pattern.Method.Valid() {
			return fmt.Errorf("custom pattern %s: unknown anonymization method %q", pattern.Name, pattern.Method)
		}
		if pattern.ConfidenceScore < 0 || pattern.ConfidenceScore > 1 {
			return fmt.Errorf("custom pattern %s: confidence score %.2f out of [0,1]", pattern.Name, pattern.ConfidenceScore)
		}
	}

	return nil
}

// Snapshot returns an independent value-copy of the rule set with the
// confidence threshold clamped to (0,1] and the language defaulted. A
// concurrent configuration edit can never touch the returned copy.
func (rs RuleSet) Snapshot() RuleSet {
	out := rs
	out.Entities = append([]EntityRule(nil), rs.Entities...)
	out.CustomPatterns = append([]PatternRule(nil), rs.CustomPatterns...)

	if out.ConfidenceThreshold <= 0 || out.ConfidenceThreshold > 1 {
		out.ConfidenceThreshold = Defaults().ConfidenceThreshold
	}
	if out.Language == "" {
		out.Language = Defaults().Language
	}
	return out
}

// EnabledEntities returns the entity rules that are switched on.
func (rs RuleSet) EnabledEntities() []EntityRule {
	out := make([]EntityRule, 0, len(rs.Entities))
	for _, entity := range rs.Entities {
		if entity.Enabled {
			out = append(out, entity)
		}
	}
	return out
}

// EffectivePatterns returns the enabled custom patterns whose regexes compile.
// A pattern that fails to compile is dropped for this run and logged, never
// fatal: broken patterns are a configuration-edit-time problem.
func (rs RuleSet) EffectivePatterns(log *logger.Logger) []PatternRule {
	out := make([]PatternRule, 0, len(rs.CustomPatterns))
	for _, pattern := range rs.CustomPatterns {
		if !pattern.Enabled {
			continue
		}
		if _, err := regexp.Compile(pattern.Pattern); err != nil {
			if log != nil {
				log.Warn("Dropping custom pattern with invalid regex",
					zap.String("pattern", pattern.Name),
					zap.Error(err),
				)
			}
			continue
		}
		out = append(out, pattern)
	}
	return out
}

// Fingerprint returns a stable hash of the effective rule payload. Two rule
// sets that would produce the same engine request share a fingerprint, which
// makes it usable as a cache-key component.
func (rs RuleSet) Fingerprint() string {
	entities := rs.EnabledEntities()
	sort.Slice(entities, func(i, j int) bool { return entities[i].Type < entities[j].Type })

	patterns := rs.EffectivePatterns(nil)
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].Name < patterns[j].Name })

	payload := struct {
		Entities  []EntityRule  `json:"entities"`
		Patterns  []PatternRule `json:"patterns"`
		Threshold float64       `json:"threshold"`
		Language  string        `json:"language"`
	}{entities, patterns, rs.ConfidenceThreshold, rs.Language}

	raw, err := json.Marshal(payload)
	if err != nil {
		// Marshal of plain structs cannot fail; keep a deterministic fallback.
		return "invalid"
	}

	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
