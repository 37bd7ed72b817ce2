package cctrace

import "github.com/ClusterCockpit/cc-trace/internal/capture"

// Field is one named, typed argument attached to a span or event. Build
// one with Bool, Uint, Int, Float, or String and pass it to Layer.Enter
// or Layer.Event.
type Field struct {
	value capture.FieldValue
}

// Bool builds a boolean-valued field.
func Bool(name string, v bool) Field {
	return Field{capture.FieldValue{Name: name, Kind: capture.FieldBool, B: v}}
}

// Uint builds an unsigned-integer-valued field.
func Uint(name string, v uint64) Field {
	return Field{capture.FieldValue{Name: name, Kind: capture.FieldU64, U64: v}}
}

// Int builds a signed-integer-valued field.
func Int(name string, v int64) Field {
	return Field{capture.FieldValue{Name: name, Kind: capture.FieldI64, I64: v}}
}

// Float builds a double-valued field.
func Float(name string, v float64) Field {
	return Field{capture.FieldValue{Name: name, Kind: capture.FieldF64, F64: v}}
}

// String builds a string-valued field.
func String(name string, v string) Field {
	return Field{capture.FieldValue{Name: name, Kind: capture.FieldString, Str: v}}
}

func toCaptureArgs(fields []Field) []capture.FieldValue {
	if len(fields) == 0 {
		return nil
	}
	args := make([]capture.FieldValue, len(fields))
	for i, f := range fields {
		args[i] = f.value
	}
	return args
}
