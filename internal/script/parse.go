package script

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValidationError describes one problem found in a script. Field is a path
// such as "title" or "shots[2].camera".
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Result struct {
	Success bool              `json:"success"`
	Script  *StoryScript      `json:"script,omitempty"`
	Errors  []ValidationError `json:"errors"`
}

// Parse validates raw script text. Every problem is reported, not just the
// first one; Script is set only when there are none.
func Parse(raw string) Result {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return failure(ValidationError{Field: "json", Message: "Invalid JSON: " + err.Error()})
	}

	root, ok := doc.(map[string]any)
	if !ok {
		return failure(ValidationError{Field: "root", Message: "Script must be a JSON object"})
	}

	errs := validate(root)
	if len(errs) > 0 {
		return Result{Errors: errs}
	}

	s, err := build([]byte(raw))
	if err != nil {
		return failure(ValidationError{Field: "json", Message: "Invalid JSON: " + err.Error()})
	}
	return Result{Success: true, Script: s, Errors: []ValidationError{}}
}

// FormatErrors renders errors as a bulleted list, one per line.
func FormatErrors(errs []ValidationError) string {
	lines := make([]string, len(errs))
	for i, e := range errs {
		lines[i] = "• " + e.Message
	}
	return strings.Join(lines, "\n")
}

func failure(e ValidationError) Result {
	return Result{Errors: []ValidationError{e}}
}

func validate(root map[string]any) []ValidationError {
	var errs []ValidationError

	if title, ok := root["title"]; !ok {
		errs = append(errs, ValidationError{"title", "Title is required"})
	} else if !nonEmptyString(title) {
		errs = append(errs, ValidationError{"title", "Title must be a non-empty string"})
	}

	shots, ok := root["shots"]
	if !ok {
		return append(errs, ValidationError{"shots", "Shots array is required"})
	}
	list, ok := shots.([]any)
	if !ok {
		return append(errs, ValidationError{"shots", "Shots must be an array"})
	}
	if len(list) == 0 {
		return append(errs, ValidationError{"shots", "Shots array must contain at least one shot"})
	}
	for i, shot := range list {
		errs = append(errs, validateShot(shot, i)...)
	}
	return errs
}

func validateShot(shot any, i int) []ValidationError {
	prefix := fmt.Sprintf("shots[%d]", i)
	n := i + 1

	obj, ok := shot.(map[string]any)
	if !ok {
		return []ValidationError{{prefix, fmt.Sprintf("Shot %d must be an object", n)}}
	}

	var errs []ValidationError
	if v, ok := obj["duration"]; !ok {
		errs = append(errs, ValidationError{prefix + ".duration", fmt.Sprintf("Shot %d: duration is required", n)})
	} else if !positiveNumber(v) {
		errs = append(errs, ValidationError{prefix + ".duration", fmt.Sprintf("Shot %d: duration must be a positive number", n)})
	}

	checks := []struct {
		key      string
		required string
	}{
		{"visual", "visual description is required"},
		{"camera", "camera instruction is required"},
		{"transition", "transition is required"},
	}
	for _, c := range checks {
		field := prefix + "." + c.key
		if v, ok := obj[c.key]; !ok {
			errs = append(errs, ValidationError{field, fmt.Sprintf("Shot %d: %s", n, c.required)})
		} else if !nonEmptyString(v) {
			errs = append(errs, ValidationError{field, fmt.Sprintf("Shot %d: %s must be a non-empty string", n, c.key)})
		}
	}
	return errs
}

func nonEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) != ""
}

func positiveNumber(v any) bool {
	f, ok := v.(float64)
	return ok && f > 0
}

// build decodes an already validated document, keeping the order of each
// shot's extra keys.
func build(raw []byte) (*StoryScript, error) {
	var doc struct {
		Title string            `json:"title"`
		Shots []json.RawMessage `json:"shots"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	s := &StoryScript{Title: doc.Title, Shots: make([]ScriptShot, 0, len(doc.Shots))}
	for _, rawShot := range doc.Shots {
		fields, err := ObjectFields(rawShot)
		if err != nil {
			return nil, err
		}
		var shot ScriptShot
		for _, f := range fields {
			switch f.Key {
			case "duration":
				if err := json.Unmarshal(f.Value, &shot.Duration); err != nil {
					return nil, err
				}
			case "visual":
				shot.Visual = TextValue(f.Value)
			case "camera":
				shot.Camera = TextValue(f.Value)
			case "transition":
				shot.Transition = TextValue(f.Value)
			case "dialogue":
				if string(f.Value) != "null" {
					shot.Dialogue = TextValue(f.Value)
				}
			default:
				shot.Extras.Set(f.Key, TextValue(f.Value))
			}
		}
		s.Shots = append(s.Shots, shot)
	}
	return s, nil
}
