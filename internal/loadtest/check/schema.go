package check

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// TaskSchema describes a single task object returned by the task API.
const TaskSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "title"],
  "properties": {
    "id": {"type": ["integer", "string"]},
    "title": {"type": "string", "minLength": 1},
    "description": {"type": ["string", "null"]},
    "status": {"enum": ["TODO", "IN_PROGRESS", "DONE", null]},
    "priority": {"type": ["integer", "null"]},
    "assignee": {"type": ["string", "null"]},
    "viewCount": {"type": ["integer", "null"], "minimum": 0},
    "createdAt": {"type": ["string", "null"]},
    "updatedAt": {"type": ["string", "null"]}
  }
}`

// TaskListSchema describes the body of GET /api/tasks.
const TaskListSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {"$ref": "task.json"}
}`

// ValidationErrors collects schema violations.
type ValidationErrors []error

func (ve ValidationErrors) Error() string {
	msgs := make([]string, 0, len(ve))
	for _, err := range ve {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Schema is a compiled JSON schema.
type Schema struct {
	schema *jsonschema.Schema
}

// CompileSchema compiles src. Additional resources are registered under
// their map keys so src can $ref them.
func CompileSchema(name, src string, resources map[string]string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	for url, res := range resources {
		if err := compiler.AddResource(url, strings.NewReader(res)); err != nil {
			return nil, fmt.Errorf("invalid schema %s: %w", url, err)
		}
	}
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("invalid schema %s: %w", name, err)
	}

	s, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("invalid schema %s: %w", name, err)
	}
	return &Schema{schema: s}, nil
}

// TaskSchemas compiles the built-in task and task list schemas.
func TaskSchemas() (task, list *Schema, err error) {
	task, err = CompileSchema("task.json", TaskSchema, nil)
	if err != nil {
		return nil, nil, err
	}
	list, err = CompileSchema("tasks.json", TaskListSchema, map[string]string{"task.json": TaskSchema})
	if err != nil {
		return nil, nil, err
	}
	return task, list, nil
}

// Validate checks body against the schema.
func (s *Schema) Validate(body []byte) error {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	err := s.schema.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		return flatten(verr)
	}
	return err
}

// Matches passes when the response body satisfies the schema.
func (s *Schema) Matches() Func {
	return func(r Response) bool {
		return r.Err == nil && s.Validate(r.Body) == nil
	}
}

func flatten(err *jsonschema.ValidationError) ValidationErrors {
	var out ValidationErrors
	if len(err.Causes) == 0 {
		out = append(out, fmt.Errorf("validation error at %s: %s", err.InstanceLocation, err.Message))
	}
	for _, c := range err.Causes {
		out = append(out, flatten(c)...)
	}
	return out
}
