package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "raw/run-1/abc.json", "application/json", bytes.NewReader([]byte(`{"data":[]}`)))
	require.NoError(t, err)
	require.Equal(t, "memory://raw/run-1/abc.json", uri)

	body, ok := store.Object("raw/run-1/abc.json")
	require.True(t, ok)
	body[0] = 'X'

	again, _ := store.Object("raw/run-1/abc.json")
	require.Equal(t, `{"data":[]}`, string(again))
	require.Equal(t, []string{"raw/run-1/abc.json"}, store.Paths())
}

func TestBlobStoreMissingObject(t *testing.T) {
	t.Parallel()

	_, ok := NewBlobStore().Object("nope")
	require.False(t, ok)
}
