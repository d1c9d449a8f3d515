package uuid

import (
	"testing"
	"time"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
}

func TestIssuedAt(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	id, err := New().NewID()
	require.NoError(t, err)

	issued, err := IssuedAt(id)
	require.NoError(t, err)
	require.WithinDuration(t, before, issued, 5*time.Second)
}

func TestIssuedAtRejectsV4(t *testing.T) {
	t.Parallel()

	_, err := IssuedAt(goUUID.NewString())
	require.Error(t, err)

	_, err = IssuedAt("not-a-uuid")
	require.Error(t, err)
}
