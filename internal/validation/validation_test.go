package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidator_Required(t *testing.T) {
	v := NewValidator()

	v.Required("field", "")
	assert.True(t, v.HasErrors())
	assert.Equal(t, "field", v.Errors()[0].Field)
	assert.Contains(t, v.Errors()[0].Message, "required")

	v = NewValidator()
	v.Required("field", "  ")
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.Required("field", "value")
	assert.False(t, v.HasErrors())
}

func TestValidator_MinValue(t *testing.T) {
	v := NewValidator()

	v.MinValue("field", 5.0, 10.0)
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.MinValue("field", 10.0, 10.0)
	assert.False(t, v.HasErrors())

	v = NewValidator()
	v.MinValue("field", 15.0, 10.0)
	assert.False(t, v.HasErrors())
}

func TestValidator_MaxValue(t *testing.T) {
	v := NewValidator()

	v.MaxValue("field", 15.0, 10.0)
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.MaxValue("field", 10.0, 10.0)
	assert.False(t, v.HasErrors())

	v = NewValidator()
	v.MaxValue("field", 5.0, 10.0)
	assert.False(t, v.HasErrors())
}

func TestValidator_MultipleErrors(t *testing.T) {
	v := NewValidator()
	v.Required("strategy_id", "")
	v.MinValue("confidence", -1, 0)
	v.MaxValue("confidence", 2, 1)

	assert.True(t, v.HasErrors())
	assert.Len(t, v.Errors(), 3)
}

func TestValidationErrors(t *testing.T) {
	errors := ValidationErrors{}
	assert.False(t, errors.HasErrors())
	assert.Equal(t, "", errors.Error())

	errors = ValidationErrors{
		ValidationError{Field: "field1", Message: "error1"},
	}
	assert.True(t, errors.HasErrors())
	assert.Contains(t, errors.Error(), "field1")

	errors = ValidationErrors{
		ValidationError{Field: "field1", Message: "error1"},
		ValidationError{Field: "field2", Message: "error2"},
	}
	assert.True(t, errors.HasErrors())
	assert.Contains(t, errors.Error(), "field1")
	assert.Contains(t, errors.Error(), "field2")
}
