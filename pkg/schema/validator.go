// Package schema validates proposed tool calls against their contract's
// parameter schema and classifies every failure into a fixed taxonomy.
//
// The validator is fail-closed but never panics: arbitrary inputs produce
// a ValidationResult, and every error code is one of the five taxonomy
// codes in contracts.
package schema

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/registry"
)

// Validator compiles each contract's JSON Schema once and caches the
// compiled form per tool name.
type Validator struct {
	registry registry.Registry

	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func NewValidator(reg registry.Registry) *Validator {
	return &Validator{
		registry: reg,
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Validate checks a proposed call against its contract.
// Unknown tools yield a single invalid_value error naming the tool.
func (v *Validator) Validate(call *contracts.ProposedToolCall) (result *contracts.ValidationResult) {
	// The validator's contract is that it never throws, whatever the
	// input. Schema compilation and validation both go through here.
	defer func() {
		if r := recover(); r != nil {
			result = &contracts.ValidationResult{
				Valid: false,
				Errors: []contracts.ValidationIssue{{
					Code:    contracts.CodeInvalidValue,
					Message: fmt.Sprintf("validator panic: %v", r),
				}},
			}
		}
	}()

	if call == nil {
		return &contracts.ValidationResult{
			Valid: false,
			Errors: []contracts.ValidationIssue{{
				Code:    contracts.CodeInvalidValue,
				Message: "nil call",
			}},
		}
	}

	contract, err := v.registry.Get(call.Tool)
	if err != nil {
		return &contracts.ValidationResult{
			Valid: false,
			Errors: []contracts.ValidationIssue{{
				Code:    contracts.CodeInvalidValue,
				Message: fmt.Sprintf("unknown tool %q", call.Tool),
			}},
		}
	}

	params := call.Params
	if params == nil {
		params = map[string]any{}
	}

	if len(contract.ParamsSchema) > 0 {
		compiled, err := v.schemaFor(contract)
		if err != nil {
			return &contracts.ValidationResult{
				Valid: false,
				Errors: []contracts.ValidationIssue{{
					Code:    contracts.CodeInvalidValue,
					Message: fmt.Sprintf("schema compile failed for %q: %v", contract.Name, err),
				}},
				RiskClass:        contract.RiskClass,
				RequiresApproval: contract.RequiresApproval,
			}
		}
		if err := compiled.Validate(normalize(params)); err != nil {
			return &contracts.ValidationResult{
				Valid:            false,
				Errors:           classify(err),
				RiskClass:        contract.RiskClass,
				RequiresApproval: contract.RequiresApproval,
			}
		}
	}

	return &contracts.ValidationResult{
		Valid:            true,
		ValidatedParams:  params,
		RiskClass:        contract.RiskClass,
		RequiresApproval: contract.RequiresApproval,
	}
}

func (v *Validator) schemaFor(contract *contracts.ToolContract) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.compiled[contract.Name]; ok {
		return s, nil
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("mem://contracts/%s.schema.json", contract.Name)
	if err := c.AddResource(url, strings.NewReader(string(contract.ParamsSchema))); err != nil {
		return nil, err
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, err
	}
	v.compiled[contract.Name] = s
	return s, nil
}

// Invalidate drops a cached schema, e.g. after unregister.
func (v *Validator) Invalidate(toolName string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.compiled, toolName)
}

var missingPropRe = regexp.MustCompile(`'([^']+)'`)

// classify maps jsonschema validation errors onto the five-code taxonomy.
func classify(err error) []contracts.ValidationIssue {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []contracts.ValidationIssue{{
			Code:    contracts.CodeInvalidValue,
			Message: err.Error(),
		}}
	}

	var issues []contracts.ValidationIssue
	for _, leaf := range leaves(ve) {
		issues = append(issues, classifyLeaf(leaf))
	}
	if len(issues) == 0 {
		issues = append(issues, classifyLeaf(ve))
	}
	return issues
}

// leaves walks the cause tree; only leaf errors carry the failing keyword.
func leaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

func classifyLeaf(ve *jsonschema.ValidationError) contracts.ValidationIssue {
	keyword := lastSegment(ve.KeywordLocation)
	field := strings.TrimPrefix(ve.InstanceLocation, "/")
	field = strings.ReplaceAll(field, "/", ".")

	issue := contracts.ValidationIssue{
		Field:    field,
		Message:  ve.Message,
		Severity: "error",
	}

	switch keyword {
	case "required":
		issue.Code = contracts.CodeMissingField
		// The instance location for a required failure is the parent
		// object; the property name is only in the message.
		if m := missingPropRe.FindStringSubmatch(ve.Message); m != nil {
			if field == "" {
				issue.Field = m[1]
			} else {
				issue.Field = field + "." + m[1]
			}
		}
	case "type":
		issue.Code = contracts.CodeTypeMismatch
	case "minimum", "maximum", "exclusiveMinimum", "exclusiveMaximum",
		"minLength", "maxLength", "minItems", "maxItems", "multipleOf":
		issue.Code = contracts.CodeOutOfRange
	case "additionalProperties", "unevaluatedProperties":
		issue.Code = contracts.CodeUnknownField
		if m := missingPropRe.FindStringSubmatch(ve.Message); m != nil && field == "" {
			issue.Field = m[1]
		}
	default:
		issue.Code = contracts.CodeInvalidValue
	}
	return issue
}

func lastSegment(loc string) string {
	if i := strings.LastIndex(loc, "/"); i >= 0 {
		return loc[i+1:]
	}
	return loc
}

// normalize converts params into the plain JSON shapes the schema library
// expects. Non-JSON values (funcs, channels) are replaced by their string
// form rather than allowed to panic the marshaller downstream.
func normalize(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, val := range params {
		out[k] = normalizeValue(val)
	}
	return out
}

func normalizeValue(val any) any {
	switch t := val.(type) {
	case nil, bool, string, float64, int, int32, int64, float32:
		return t
	case map[string]any:
		return normalize(t)
	case []any:
		arr := make([]any, len(t))
		for i, e := range t {
			arr[i] = normalizeValue(e)
		}
		return arr
	default:
		return fmt.Sprintf("%v", t)
	}
}
