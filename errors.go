package mlt

import (
	"fmt"
	"strings"
)

// NotFoundError is returned when a view, component, include target or parent
// layout cannot be resolved to a source file. Tried lists every candidate
// path that was checked, in search order.
type NotFoundError struct {
	Name  string
	Tried []string
}

func (e *NotFoundError) Error() string {
	if len(e.Tried) == 0 {
		return fmt.Sprintf("template %q not found", e.Name)
	}
	return fmt.Sprintf("template %q not found, tried: %s", e.Name, strings.Join(e.Tried, ", "))
}

// CompileError is returned when a template unit cannot be compiled.
type CompileError struct {
	Name    string
	Message string
	Cause   error
}

func (e *CompileError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] compile error: %s: %v", e.Name, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] compile error: %s", e.Name, e.Message)
}

func (e *CompileError) Unwrap() error {
	return e.Cause
}

func compileErrf(name, format string, args ...any) error {
	return &CompileError{Name: name, Message: fmt.Sprintf(format, args...)}
}

// RuntimeError is returned when executing a compiled unit fails. Name is the
// logical name of the unit (view, component or include) that was executing.
type RuntimeError struct {
	Name  string
	Cause error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("[%s] runtime error: %v", e.Name, e.Cause)
}

func (e *RuntimeError) Unwrap() error {
	return e.Cause
}
