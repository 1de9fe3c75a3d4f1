package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfWrapped(t *testing.T) {
	base := Conflict("Create", ConflictRef{ReservationID: "res-a", ConnectorID: "c1"})
	wrapped := fmt.Errorf("occurrence 2: %w", base)

	assert.Equal(t, KindConflict, KindOf(wrapped))
	e, ok := As(wrapped)
	require.True(t, ok)
	require.Len(t, e.Conflicts, 1)
	assert.Equal(t, "res-a", e.Conflicts[0].ReservationID)
	assert.Contains(t, e.Error(), "res-a")
}

func TestSafeKinds(t *testing.T) {
	assert.True(t, Validation("op", "bad").Safe())
	assert.True(t, Policy("op", "late").Safe())
	assert.True(t, NotFound("op", "reservation", "r1").Safe())
	assert.True(t, Conflict("op").Safe())
	assert.False(t, Dependency("op", "pricing", errors.New("timeout")).Safe())
	assert.False(t, Internal("op", errors.New("db down")).Safe())
}

func TestForeignErrorsAreInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, KindInternal))
	dep := Dependency("Create", "pricing", errors.New("timeout"))
	assert.ErrorContains(t, dep, "pricing unavailable: timeout")
	assert.Equal(t, "dependency", dep.Kind.String())
}
