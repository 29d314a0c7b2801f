// Package schema validates tool payloads against JSON-Schema documents.
//
// Violations are reported as data rather than raised as errors; only a schema
// document that itself fails to compile is surfaced as an error, so callers
// can always tell "payload invalid" apart from "schema unusable".
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Issue is a single payload violation, located by a JSON-pointer path
// ("/" for the document root).
type Issue struct {
	Pointer string `json:"pointer"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return i.Pointer + ": " + i.Message
}

// CompileError reports a schema document that failed to compile.
// It is a defect of the tool's metadata, not of the payload being checked.
type CompileError struct {
	Err error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("schema compile: %v", e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

var printer = message.NewPrinter(language.English)

// Validate checks payload against the schema document.
//
// Payload violations come back as issues in validator-traversal order; a
// malformed schema document comes back as a *CompileError and the payload is
// not examined at all. A conforming payload yields (nil, nil).
func Validate(doc map[string]any, payload any) ([]Issue, error) {
	sch, err := compile(doc)
	if err != nil {
		return nil, &CompileError{Err: err}
	}

	err = sch.Validate(payload)
	if err == nil {
		return nil, nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		// Validate only returns *ValidationError for well-formed values, so
		// anything else is a schema problem that surfaced late.
		return nil, &CompileError{Err: err}
	}
	return flatten(ve), nil
}

// compile round-trips the document through JSON before handing it to the
// compiler: manifests may carry inline schemas decoded from YAML, whose
// native Go types the compiler does not accept.
func compile(doc map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	normalized, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft2020)
	c.AssertFormat()
	if err := c.AddResource("schema.json", normalized); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

// flatten walks the validation error tree and collects its leaves, one issue
// per leaf, each pointing at the offending instance location.
func flatten(ve *jsonschema.ValidationError) []Issue {
	var issues []Issue
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			issues = append(issues, Issue{
				Pointer: pointer(e.InstanceLocation),
				Message: e.ErrorKind.LocalizedString(printer),
			})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return issues
}

// pointer renders instance location segments as an RFC 6901 JSON pointer,
// with "/" standing in for the document root.
func pointer(segments []string) string {
	if len(segments) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, seg := range segments {
		seg = strings.ReplaceAll(seg, "~", "~0")
		seg = strings.ReplaceAll(seg, "/", "~1")
		b.WriteByte('/')
		b.WriteString(seg)
	}
	return b.String()
}
