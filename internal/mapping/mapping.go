// Package mapping binds output fields to source paths and resolves bound
// values against source records.
package mapping

import (
	"errors"

	"composer/internal/jsonvalue"
	"composer/internal/transform"
)

var (
	ErrUnknownMapping   = errors.New("mapping: unknown mapping")
	ErrDuplicateBinding = errors.New("mapping: duplicate binding for target and source")
	ErrInvalidBinding   = errors.New("mapping: invalid binding")
)

// FieldMapping binds one output field to a path in one source. Several
// mappings may share a TargetPath as long as their SourceIDs differ.
type FieldMapping struct {
	ID              string           `json:"id" yaml:"id"`
	TargetPath      string           `json:"targetPath" yaml:"targetPath"`
	SourceID        string           `json:"sourceId" yaml:"sourceId"`
	SourcePath      string           `json:"sourcePath" yaml:"sourcePath"`
	Transformations []transform.Step `json:"transformations" yaml:"transformations"`
	FallbackValue   jsonvalue.Value  `json:"fallbackValue,omitzero" yaml:"fallbackValue,omitempty"`
	Conditional     *Conditional     `json:"conditional,omitempty" yaml:"conditional,omitempty"`
}

// HasFallback reports whether a fallback value is configured. An explicit
// null fallback counts.
func (m FieldMapping) HasFallback() bool { return !m.FallbackValue.IsUndefined() }

func (m FieldMapping) clone() FieldMapping {
	c := m
	c.Transformations = append([]transform.Step(nil), m.Transformations...)
	if m.Conditional != nil {
		cond := *m.Conditional
		c.Conditional = &cond
	}
	return c
}

type bindingKey struct {
	target string
	source string
}

func (m FieldMapping) key() bindingKey { return bindingKey{m.TargetPath, m.SourceID} }

// Conditional gates a mapping: the field counts as unmapped for records on
// which Expression does not evaluate to true.
type Conditional struct {
	Expression string `json:"expression" yaml:"expression"`
}
