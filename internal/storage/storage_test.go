package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	etag, err := s.Put(ctx, "tickets/1/abc/screen shot.png", []byte("png-bytes"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, etagOf([]byte("png-bytes")), etag)

	obj, err := s.Get(ctx, "tickets/1/abc/screen shot.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), obj.Body)
	assert.Equal(t, "image/png", obj.ContentType)
	assert.Equal(t, `attachment; filename="screen shot.png"`, obj.ContentDisposition)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_GetMissing(t *testing.T) {
	_, err := NewMemoryStore().Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestMemoryStore_PutCopiesBody(t *testing.T) {
	s := NewMemoryStore()
	body := []byte("hello")
	_, err := s.Put(context.Background(), "k", body, "text/plain")
	require.NoError(t, err)

	body[0] = 'j'
	obj, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(obj.Body))
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.Put(ctx, "k", []byte("hello"), "text/plain")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "k"))
	assert.Equal(t, 0, s.Len())

	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.NoError(t, s.Delete(ctx, "k"))
}
