// Package data defines column roles, the experiment formatters that split
// and scale raw tables, and the window sampling that turns a formatted
// table into encoder/decoder tensors.
package data

import (
	"fmt"

	"github.com/YuminosukeSato/kittycat/pkg/errors"
)

// DataType is the value kind of a column.
type DataType int

const (
	RealValued DataType = iota
	Categorical
	Date
)

func (d DataType) String() string {
	switch d {
	case RealValued:
		return "REAL_VALUED"
	case Categorical:
		return "CATEGORICAL"
	case Date:
		return "DATE"
	default:
		return fmt.Sprintf("DataType(%d)", int(d))
	}
}

// InputType is the role a column plays in the model.
type InputType int

const (
	ID InputType = iota
	Time
	Target
	KnownInput
	ObservedInput
	StaticInput
)

func (i InputType) String() string {
	switch i {
	case ID:
		return "ID"
	case Time:
		return "TIME"
	case Target:
		return "TARGET"
	case KnownInput:
		return "KNOWN_INPUT"
	case ObservedInput:
		return "OBSERVED_INPUT"
	case StaticInput:
		return "STATIC_INPUT"
	default:
		return fmt.Sprintf("InputType(%d)", int(i))
	}
}

// ColumnDefinition is one (name, value kind, role) triple. A name may be
// listed more than once with different roles.
type ColumnDefinition struct {
	Name      string
	DataType  DataType
	InputType InputType
}

// ColumnDefinitions is an ordered column schema.
type ColumnDefinitions []ColumnDefinition

// Validate checks that exactly one column is the time index and at least
// one is a target.
func (c ColumnDefinitions) Validate() error {
	if len(c) == 0 {
		return errors.NewValidationError("column_definition", "no columns defined", 0)
	}
	var times, targets, ids int
	for _, col := range c {
		if col.Name == "" {
			return errors.NewValidationError("column_definition", "column name is empty", col)
		}
		switch col.InputType {
		case Time:
			times++
		case Target:
			targets++
		case ID:
			ids++
		}
	}
	if times != 1 {
		return errors.NewValidationError("column_definition", "exactly one TIME column is required", times)
	}
	if targets < 1 {
		return errors.NewValidationError("column_definition", "at least one TARGET column is required", targets)
	}
	if ids > 1 {
		return errors.NewValidationError("column_definition", "at most one ID column is allowed", ids)
	}
	return nil
}

// Column returns the name of the first column with the given role.
func (c ColumnDefinitions) Column(role InputType) (string, bool) {
	for _, col := range c {
		if col.InputType == role {
			return col.Name, true
		}
	}
	return "", false
}

// Names returns the column names with any of the given roles, in schema
// order.
func (c ColumnDefinitions) Names(roles ...InputType) []string {
	var out []string
	for _, col := range c {
		for _, r := range roles {
			if col.InputType == r {
				out = append(out, col.Name)
				break
			}
		}
	}
	return out
}

// Filter returns the definitions with any of the given roles.
func (c ColumnDefinitions) Filter(roles ...InputType) ColumnDefinitions {
	var out ColumnDefinitions
	for _, col := range c {
		for _, r := range roles {
			if col.InputType == r {
				out = append(out, col)
				break
			}
		}
	}
	return out
}
