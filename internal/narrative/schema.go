package narrative

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/djlord-it/morning-brief/internal/domain"
	jsoniter "github.com/json-iterator/go"
	"github.com/kaptinlin/jsonrepair"
	"github.com/kaptinlin/jsonschema"
)

// Schema is the JSON Schema every generated response must satisfy.
//
//go:embed schema.json
var Schema []byte

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled, compileErr = jsonschema.NewCompiler().Compile(Schema)
	})
	return compiled, compileErr
}

// Decode parses a backend response into NarrativeContent. Malformed JSON is
// repaired once before giving up. Any schema violation is reported as
// domain.ErrGenerationSchema.
func Decode(raw []byte) (domain.NarrativeContent, error) {
	var content domain.NarrativeContent

	text := strings.TrimSpace(stripFence(string(raw)))
	if text == "" {
		return content, fmt.Errorf("%w: empty response", domain.ErrGenerationSchema)
	}

	var doc interface{}
	if err := jsoniter.UnmarshalFromString(text, &doc); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(text)
		if rerr != nil {
			return content, fmt.Errorf("%w: %v", domain.ErrGenerationSchema, err)
		}
		if err := jsoniter.UnmarshalFromString(repaired, &doc); err != nil {
			return content, fmt.Errorf("%w: %v", domain.ErrGenerationSchema, err)
		}
		text = repaired
	}

	schema, err := compiledSchema()
	if err != nil {
		return content, fmt.Errorf("compile narrative schema: %w", err)
	}
	result := schema.Validate(doc)
	if !result.IsValid() {
		fields := make([]string, 0, len(result.Errors))
		for field, e := range result.Errors {
			fields = append(fields, field+": "+e.Message)
		}
		sort.Strings(fields)
		return content, fmt.Errorf("%w: %s", domain.ErrGenerationSchema, strings.Join(fields, "; "))
	}

	if err := jsoniter.UnmarshalFromString(text, &content); err != nil {
		return content, fmt.Errorf("%w: %v", domain.ErrGenerationSchema, err)
	}
	if blank(content) {
		return content, errors.Join(domain.ErrGenerationSchema, errors.New("blank section"))
	}
	return content, nil
}

// blank catches whitespace-only strings, which minLength lets through.
func blank(c domain.NarrativeContent) bool {
	for _, s := range []string{c.Greeting, c.Summary, c.CalendarSection, c.TasksSection,
		c.EmailSection, c.InsightsSection, c.Closing} {
		if strings.TrimSpace(s) == "" {
			return true
		}
	}
	for _, a := range c.PriorityActions {
		if strings.TrimSpace(a) == "" {
			return true
		}
	}
	return false
}

// stripFence removes a ```json fence some models wrap around their output.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
