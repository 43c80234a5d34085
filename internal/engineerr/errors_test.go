package engineerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageIncludesPolicyContext(t *testing.T) {
	err := New(ClassPermanent, "schema violation", nil).WithPolicy("dns-001").WithCode(CodeSchemaViolation)
	assert.Contains(t, err.Error(), "dns-001")
	assert.Contains(t, err.Error(), "schema violation")
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying failure")
	err := New(ClassTransient, "probe failed", cause)
	assert.ErrorIs(t, err, cause)
}

func TestErrorIsComparesClassAndCode(t *testing.T) {
	a := New(ClassPermanent, "x", nil).WithCode(CodeUnknownPolicy)
	b := New(ClassPermanent, "different message", nil).WithCode(CodeUnknownPolicy)
	c := New(ClassTransient, "x", nil).WithCode(CodeUnknownPolicy)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestIsClass(t *testing.T) {
	err := New(ClassConflict, "conflicting policies", nil).WithCode(CodeConflictingPolicies)
	assert.True(t, IsClass(err, ClassConflict))
	assert.False(t, IsClass(err, ClassTransient))
	assert.False(t, IsClass(errors.New("plain"), ClassConflict))
}

func TestWithDetailAccumulates(t *testing.T) {
	err := New(ClassPermanent, "bad", nil).WithDetail("invariant", "auto_apply").WithDetail("field", "control")
	assert.Equal(t, "auto_apply", err.Details["invariant"])
	assert.Equal(t, "control", err.Details["field"])
}
