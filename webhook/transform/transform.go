// Package transform applies subscriber-supplied CEL expressions to webhook
// payloads. Expressions run against a deep copy of the envelope with a small
// set of helper functions and a bounded evaluation cost; they never execute
// arbitrary code in-process.
package transform

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/marcelsud/webhook-dispatch/webhook/payload"
)

const (
	// costLimit bounds the work a single expression may do
	costLimit = 100_000

	defaultVisible = 4
	maskRune       = '*'
	ellipsis       = "..."
)

var structType = reflect.TypeOf(&structpb.Struct{})

// Error reports a transformation that cannot succeed for this payload.
// Transformations are deterministic, so callers must not retry them.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transforming payload: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Engine compiles and evaluates transform expressions
type Engine struct {
	env      *cel.Env
	programs map[string]cel.Program
	mu       sync.RWMutex
}

// NewEngine creates a transform engine with the helper function library
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
		cel.Function("mask",
			cel.Overload("mask_string", []*cel.Type{cel.StringType}, cel.StringType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					return types.String(Mask(string(v.(types.String)), defaultVisible))
				}),
			),
			cel.Overload("mask_string_int", []*cel.Type{cel.StringType, cel.IntType}, cel.StringType,
				cel.BinaryBinding(func(s, n ref.Val) ref.Val {
					visible := int(n.(types.Int))
					if visible < 0 {
						return types.NewErr("mask: visible characters cannot be negative")
					}
					return types.String(Mask(string(s.(types.String)), visible))
				}),
			),
		),
		cel.Function("truncate",
			cel.Overload("truncate_string_int", []*cel.Type{cel.StringType, cel.IntType}, cel.StringType,
				cel.BinaryBinding(func(s, n ref.Val) ref.Val {
					limit := int(n.(types.Int))
					if limit < 0 {
						return types.NewErr("truncate: length cannot be negative")
					}
					return types.String(Truncate(string(s.(types.String)), limit))
				}),
			),
		),
		cel.Function("formatDate",
			cel.Overload("formatDate_string_string", []*cel.Type{cel.StringType, cel.StringType}, cel.StringType,
				cel.BinaryBinding(func(s, layout ref.Val) ref.Val {
					out, err := FormatDate(string(s.(types.String)), string(layout.(types.String)))
					if err != nil {
						return types.NewErr("formatDate: %v", err)
					}
					return types.String(out)
				}),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile checks an expression and caches its program
func (e *Engine) Compile(source string) error {
	_, err := e.program(source)
	return err
}

func (e *Engine) program(source string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[source]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, &Error{Err: fmt.Errorf("compiling expression: %w", issues.Err())}
	}

	prg, err := e.env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("creating program: %w", err)}
	}

	e.mu.Lock()
	e.programs[source] = prg
	e.mu.Unlock()

	return prg, nil
}

// Apply evaluates source against a copy of p. The expression must yield a
// map; its keys replace the matching top-level keys of the envelope.
// p itself is never modified.
func (e *Engine) Apply(p payload.Payload, source string) (payload.Payload, error) {
	prg, err := e.program(source)
	if err != nil {
		return payload.Payload{}, err
	}

	doc, err := p.ToMap()
	if err != nil {
		return payload.Payload{}, &Error{Err: err}
	}

	out, _, err := prg.Eval(map[string]any{"payload": doc})
	if err != nil {
		return payload.Payload{}, &Error{Err: fmt.Errorf("evaluating expression: %w", err)}
	}

	native, err := out.ConvertToNative(structType)
	if err != nil {
		return payload.Payload{}, &Error{Err: fmt.Errorf("expression must return a map: %w", err)}
	}

	result, err := p.ToMap()
	if err != nil {
		return payload.Payload{}, &Error{Err: err}
	}
	for key, value := range native.(*structpb.Struct).AsMap() {
		result[key] = value
	}

	transformed, err := payload.FromMap(result)
	if err != nil {
		return payload.Payload{}, &Error{Err: err}
	}
	return transformed, nil
}

// Mask replaces all but the last visible characters of s. Strings no
// longer than the visible tail are masked entirely.
func Mask(s string, visible int) string {
	runes := []rune(s)
	if visible >= len(runes) {
		visible = 0
	}
	for i := 0; i < len(runes)-visible; i++ {
		runes[i] = maskRune
	}
	return string(runes)
}

// Truncate shortens s to limit characters, marking the cut with an ellipsis
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + ellipsis
}

var namedLayouts = map[string]string{
	"date":     time.DateOnly,
	"datetime": time.DateTime,
	"time":     time.TimeOnly,
	"rfc3339":  time.RFC3339,
	"unix":     "unix",
}

// FormatDate reformats an RFC3339 timestamp. layout is a Go layout or one
// of date, datetime, time, rfc3339 and unix.
func FormatDate(value, layout string) (string, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return "", fmt.Errorf("parsing %q: %w", value, err)
	}
	if named, ok := namedLayouts[layout]; ok {
		layout = named
	}
	if layout == "unix" {
		return fmt.Sprintf("%d", t.Unix()), nil
	}
	return t.UTC().Format(layout), nil
}
