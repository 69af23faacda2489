// Package engine is the client for the external text-analysis worker that
// performs entity detection and anonymization. The worker is a black box; this
// package owns payload encoding, transport selection, timeout enforcement and
// response validation.
//
// Worker invocation contract:
//
//	<command> <script> --serve                       pipe transport, JSON lines on stdin/stdout
//	<command> <script> --file <in> <config> <out>    file transport, one call per process
//	<command> <script> --check                       installation probe, JSON on stdout
//	<command> <script> --version                     version string on stdout
package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/securepaste/securepaste/internal/logger"
	"github.com/securepaste/securepaste/internal/rules"
)

var (
	// ErrTimeout is returned when the engine call exceeded its deadline. The
	// subprocess has been force-killed by the time the error is returned.
	ErrTimeout = errors.New("engine: call timed out")

	// ErrUnavailable is returned when the worker process is gone or cannot be
	// reached.
	ErrUnavailable = errors.New("engine: worker unavailable")

	// ErrMalformedResponse is returned when the worker's output does not
	// match the response contract.
	ErrMalformedResponse = errors.New("engine: malformed response")
)

// FailureError carries an error the engine itself reported for a call that
// completed the round trip.
type FailureError struct {
	Message string
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("engine: %s", e.Message)
}

// Request is the payload shipped to the worker for one anonymization call.
// For the pipe transport the whole request travels as one JSON line; for the
// file transport Text goes to the input file and Config to the config file.
type Request struct {
	Command string        `json:"command,omitempty"`
	Text    string        `json:"text"`
	Config  ConfigPayload `json:"config"`
}

// ConfigPayload is the derived subset of the rule configuration the engine
// needs: only enabled entities and enabled, compilable custom patterns.
type ConfigPayload struct {
	Entities            []EntityPayload  `json:"entities"`
	CustomPatterns      []PatternPayload `json:"custom_patterns,omitempty"`
	ConfidenceThreshold float64          `json:"confidence_threshold"`
	Language            string           `json:"language"`
}

// EntityPayload is a flattened enabled entity rule.
type EntityPayload struct {
	Type              string `json:"type"`
	Method            string `json:"anonymization_method"`
	CustomReplacement string `json:"custom_replacement,omitempty"`
}

// PatternPayload is a flattened enabled custom pattern rule.
type PatternPayload struct {
	Name              string  `json:"name"`
	Pattern           string  `json:"pattern"`
	EntityType        string  `json:"entity_type"`
	Enabled           bool    `json:"enabled"`
	ConfidenceScore   float64 `json:"confidence_score"`
	Method            string  `json:"anonymization_method"`
	CustomReplacement string  `json:"custom_replacement,omitempty"`
	Description       string  `json:"description,omitempty"`
}

// response mirrors the worker's wire format. Pointer fields distinguish
// "absent" from zero values so validation can reject incomplete output
// instead of silently defaulting.
type response struct {
	Success        *bool          `json:"success"`
	AnonymizedText *string        `json:"anonymized_text"`
	EntitiesFound  map[string]int `json:"entities_found"`
	TotalEntities  int            `json:"total_entities"`
	Error          string         `json:"error"`
}

// Result is a validated engine response for a single call. It is consumed
// immediately by the pipeline and never persisted.
type Result struct {
	AnonymizedText string
	EntitiesFound  map[string]int
	TotalEntities  int
}

// Changed reports whether the engine produced text different from the input,
// compared byte for byte.
func (r *Result) Changed(original string) bool {
	return r.AnonymizedText != original
}

// BuildConfigPayload derives the engine config from a rule snapshot. Disabled
// rules never reach the engine; patterns that fail to compile are dropped here
// with a warning rather than tripping the worker.
func BuildConfigPayload(rs rules.RuleSet, log *logger.Logger) ConfigPayload {
	entities := rs.EnabledEntities()
	payload := ConfigPayload{
		Entities:            make([]EntityPayload, 0, len(entities)),
		ConfidenceThreshold: rs.ConfidenceThreshold,
		Language:            rs.Language,
	}

	for _, entity := range entities {
		payload.Entities = append(payload.Entities, EntityPayload{
			Type:              entity.Type,
			Method:            string(entity.Method),
			CustomReplacement: entity.CustomReplacement,
		})
	}

	for _, pattern := range rs.EffectivePatterns(log) {
		payload.CustomPatterns = append(payload.CustomPatterns, PatternPayload{
			Name:              pattern.Name,
			Pattern:           pattern.Pattern,
			EntityType:        pattern.EntityType,
			Enabled:           true,
			ConfidenceScore:   pattern.ConfidenceScore,
			Method:            string(pattern.Method),
			CustomReplacement: pattern.CustomReplacement,
			Description:       pattern.Description,
		})
	}

	return payload
}

// parseResult validates raw worker output against the response contract.
func parseResult(raw []byte) (*Result, error) {
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if resp.Success == nil {
		return nil, fmt.Errorf("%w: missing success field", ErrMalformedResponse)
	}

	if !*resp.Success {
		message := resp.Error
		if message == "" {
			message = "engine reported failure without detail"
		}
		return nil, &FailureError{Message: message}
	}

	if resp.AnonymizedText == nil {
		return nil, fmt.Errorf("%w: missing anonymized_text field", ErrMalformedResponse)
	}

	entities := resp.EntitiesFound
	if entities == nil {
		entities = map[string]int{}
	}

	return &Result{
		AnonymizedText: *resp.AnonymizedText,
		EntitiesFound:  entities,
		TotalEntities:  resp.TotalEntities,
	}, nil
}
