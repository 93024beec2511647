package payloadschema

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"horse.fit/eventmerge/internal/model"
)

//go:embed candidate.schema.json
var candidateSchemaJSON string

const maxBatchLineBytes = 4 << 20

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error

	validateOnce sync.Once
	validate     *validator.Validate
)

// ValidateCandidatePayload checks one candidate document against the JSON
// schema, decodes it and runs the struct and semantic checks.
func ValidateCandidatePayload(payload json.RawMessage) (*model.Candidate, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var candidate model.Candidate
	if err := json.Unmarshal(bytes.TrimSpace(payload), &candidate); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := ValidateCandidate(&candidate); err != nil {
		return nil, err
	}
	return &candidate, nil
}

// ValidateCandidate runs the struct tag rules and the cross-field checks the
// JSON schema cannot express.
func ValidateCandidate(c *model.Candidate) error {
	if c == nil {
		return fmt.Errorf("candidate is nil")
	}
	if err := Validator().Struct(c); err != nil {
		return fmt.Errorf("candidate validation failed: %w", describe(err))
	}
	return validateSemantics(c)
}

// Validator returns the shared struct validator.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// SplitBatch splits a batch document into one raw payload per candidate. A
// document starting with '[' is a JSON array; anything else is NDJSON, where
// blank lines are skipped.
func SplitBatch(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		decoder := json.NewDecoder(bytes.NewReader(trimmed))
		if err := decoder.Decode(&items); err != nil {
			return nil, fmt.Errorf("decode batch array: %w", err)
		}
		if err := decoder.Decode(&struct{}{}); err != io.EOF {
			return nil, fmt.Errorf("batch contains trailing content")
		}
		return items, nil
	}

	var items []json.RawMessage
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), maxBatchLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		if !json.Valid(text) {
			return nil, fmt.Errorf("line %d: invalid JSON", line)
		}
		items = append(items, append(json.RawMessage(nil), text...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	return items, nil
}

// ItemError ties a validation failure to its position in a batch.
type ItemError struct {
	Index int
	Err   error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

// ParseBatch validates every candidate of a batch document. It returns the
// valid candidates in order together with one ItemError per rejected item.
func ParseBatch(data []byte) ([]model.Candidate, []ItemError, error) {
	payloads, err := SplitBatch(data)
	if err != nil {
		return nil, nil, err
	}

	candidates := make([]model.Candidate, 0, len(payloads))
	var itemErrs []ItemError
	for i, payload := range payloads {
		c, err := ValidateCandidatePayload(payload)
		if err != nil {
			itemErrs = append(itemErrs, ItemError{Index: i, Err: err})
			continue
		}
		candidates = append(candidates, *c)
	}
	return candidates, itemErrs, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("candidate.schema.json", strings.NewReader(candidateSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("candidate.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(c *model.Candidate) error {
	d := c.Data
	if d.StartAt != nil && d.EndAt != nil && d.EndAt.Before(*d.StartAt) {
		return fmt.Errorf("data.end_at must not be before data.start_at")
	}
	if d.AgeMin != nil && d.AgeMax != nil && *d.AgeMin > *d.AgeMax {
		return fmt.Errorf("data.age_min must not exceed data.age_max")
	}
	if d.PriceMin != nil && d.PriceMax != nil && *d.PriceMin > *d.PriceMax {
		return fmt.Errorf("data.price_min must not exceed data.price_max")
	}
	if (d.Lat == nil) != (d.Lng == nil) {
		return fmt.Errorf("data.lat and data.lng must be given together")
	}
	for i, category := range d.Categories {
		if strings.TrimSpace(category) == "" {
			return fmt.Errorf("data.categories[%d] must not be empty", i)
		}
	}
	if c.AI != nil && c.AI.AgeMin != nil && c.AI.AgeMax != nil && *c.AI.AgeMin > *c.AI.AgeMax {
		return fmt.Errorf("ai.age_min must not exceed ai.age_max")
	}
	return nil
}

func describe(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}
