package exception_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/tigerroll/statickg/pkg/etl/support/util/exception"

	"github.com/stretchr/testify/assert"
)

func TestNewETLError(t *testing.T) {
	originalErr := errors.New("status 500")
	e := exception.NewETLError("fuseki", exception.ErrStoreLoad, "failed to upload a.ttl", originalErr)

	assert.Equal(t, "fuseki", e.Module)
	assert.Equal(t, "failed to upload a.ttl", e.Message)
	assert.Equal(t, "[fuseki] failed to upload a.ttl: status 500", e.Error())
	assert.ErrorIs(t, e, exception.ErrStoreLoad)
	assert.ErrorIs(t, e, originalErr)
	assert.NotErrorIs(t, e, exception.ErrTransformation)
}

func TestNewETLErrorf(t *testing.T) {
	// Trailing error is the cause.
	cause := errors.New("exit status 1")
	e1 := exception.NewETLErrorf("drepr", exception.ErrTransformation, "failed to process %s", "::REPO::a.csv", cause)
	assert.Equal(t, "failed to process ::REPO::a.csv", e1.Message)
	assert.Equal(t, cause, e1.OriginalErr)
	assert.ErrorIs(t, e1, exception.ErrTransformation)

	// Without a cause.
	e2 := exception.NewETLErrorf("runner", exception.ErrConfigDrift, "snapshot %s differs", "config.json")
	assert.Nil(t, e2.OriginalErr)
	assert.Equal(t, "[runner] snapshot config.json differs", e2.Error())
	assert.ErrorIs(t, e2, exception.ErrConfigDrift)
}

func TestIsETLError(t *testing.T) {
	e := exception.NewETLError("copy", exception.ErrRequiredInputMissing, "no file matches *.csv", nil)
	wrapped := fmt.Errorf("task 0: %w", e)

	assert.True(t, exception.IsETLError(e))
	assert.True(t, exception.IsETLError(wrapped))
	assert.False(t, exception.IsETLError(errors.New("plain")))
	assert.False(t, exception.IsETLError(nil))
	assert.ErrorIs(t, wrapped, exception.ErrRequiredInputMissing)
}

func TestExtractErrorMessage(t *testing.T) {
	e := exception.NewETLError("copy", exception.ErrTransformation, "copy failed", errors.New("disk full"))

	assert.Equal(t, "copy failed", exception.ExtractErrorMessage(e))
	assert.Equal(t, "copy failed", exception.ExtractErrorMessage(fmt.Errorf("wrap: %w", e)))
	assert.Equal(t, "plain", exception.ExtractErrorMessage(errors.New("plain")))
	assert.Equal(t, "", exception.ExtractErrorMessage(nil))
}
