package archive

import (
	"context"
	"os"
	"testing"

	"github.com/ericksa/lexiclarus/internal/config"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "sessions/abc/lease.pdf", ObjectKey("abc", "lease.pdf"))
	assert.Equal(t, "sessions/abc/lease.pdf", ObjectKey("abc", "../../etc/lease.pdf"))
	assert.Equal(t, "sessions/abc/lease.docx", ObjectKey("abc", `C:\Users\me\lease.docx`))
	assert.Equal(t, "sessions/abc/upload", ObjectKey("abc", ""))
}

func TestMinIO_RoundTrip(t *testing.T) {
	endpoint := os.Getenv("LEXI_TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("LEXI_TEST_MINIO_ENDPOINT not set")
	}
	m, err := NewMinIO(config.ArchiveConfig{
		Endpoint:  endpoint,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "lexiclarus-test",
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, m.EnsureBucket(ctx))

	id := uuid.NewString()
	key, err := m.Put(ctx, id, "lease.txt", "text/plain", []byte("Tenant pays rent."))
	require.NoError(t, err)
	assert.Equal(t, "sessions/"+id+"/lease.txt", key)

	data, err := m.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "Tenant pays rent.", string(data))
}
