package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvalidSearchError(t *testing.T) {
	err := NewInvalidSearchError("search hash %s not found", "abc123")
	assert.Equal(t, "invalid search: search hash abc123 not found", err.Error())
	assert.True(t, IsInvalidSearch(err))
	assert.True(t, IsInvalidSearch(fmt.Errorf("resolving: %w", err)))
	assert.False(t, IsInvalidSearch(fmt.Errorf("other")))
}

func TestInvalidIndexError(t *testing.T) {
	err := &InvalidIndexError{Index: "variants_v3", Message: "no such index"}
	assert.Equal(t, `invalid index "variants_v3": no such index`, err.Error())
	assert.True(t, IsInvalidIndex(err))
	assert.True(t, IsInvalidIndex(fmt.Errorf("searching: %w", err)))

	bare := &InvalidIndexError{Message: "index metadata missing"}
	assert.Equal(t, "invalid index: index metadata missing", bare.Error())
}

func TestPermissionDeniedError(t *testing.T) {
	err := &PermissionDeniedError{UserID: "u1", ProjectGUID: "R0001_test"}
	assert.True(t, IsPermissionDenied(err))
	assert.True(t, IsPermissionDenied(fmt.Errorf("checking: %w", err)))
	assert.False(t, IsPermissionDenied(ErrNotFound))
}
