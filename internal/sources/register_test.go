package sources

import (
	"io"
	"testing"

	v1 "github.com/infracollect/zipstream/apis/v1"
	"github.com/infracollect/zipstream/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	registry := engine.NewRegistry(nil)
	Register(registry, "eu-central-1")

	assert.Equal(t, []string{"file", "http", "inline", "s3"}, registry.AvailableSources())

	t.Run("inline", func(t *testing.T) {
		src, err := registry.CreateSource(t.Context(), MemoryKind, &v1.InlineSource{Content: "hello"})
		require.NoError(t, err)
		rc, err := src.Open(t.Context())
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(content))
	})

	t.Run("http", func(t *testing.T) {
		timeout := 5
		src, err := registry.CreateSource(t.Context(), HTTPKind, &v1.HTTPSource{URL: "https://example.com/a", Timeout: &timeout})
		require.NoError(t, err)
		assert.Equal(t, HTTPKind, src.Kind())
	})

	t.Run("s3 sources share a client", func(t *testing.T) {
		a, err := registry.CreateSource(t.Context(), S3Kind, &v1.S3Source{URI: "s3://bucket/a"})
		require.NoError(t, err)
		b, err := registry.CreateSource(t.Context(), S3Kind, &v1.S3Source{URI: "s3://bucket/b"})
		require.NoError(t, err)
		c, err := registry.CreateSource(t.Context(), S3Kind, &v1.S3Source{URI: "s3://bucket/c", Region: "us-west-2"})
		require.NoError(t, err)

		assert.Same(t, a.(*S3).clients, b.(*S3).clients)
		assert.NotSame(t, a.(*S3).clients, c.(*S3).clients)
		assert.Equal(t, "eu-central-1", a.(*S3).clients.(*LazyS3Client).cfg.DefaultRegion)
	})

	t.Run("invalid s3 uri", func(t *testing.T) {
		_, err := registry.CreateSource(t.Context(), S3Kind, &v1.S3Source{URI: "s3://bucket"})
		var cfgErr *engine.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("wrong spec type", func(t *testing.T) {
		_, err := registry.CreateSource(t.Context(), FileKind, &v1.InlineSource{})
		require.ErrorContains(t, err, `invalid source spec for kind "file"`)
	})
}
