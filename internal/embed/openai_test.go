package embed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

func TestOpenAIEmbedder_Embed(t *testing.T) {
	// Given: an OpenAI-compatible endpoint
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[{"object":"embedding","index":0,"embedding":[0,3,4]}]}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	// When: embedding
	vec, err := e.Embed(context.Background(), "pearson correlation")

	// Then: the vector is unit length
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0, 0.6, 0.8}, vec, 1e-6)
	assert.Equal(t, DefaultOpenAIModel, e.ModelName())
}

func TestOpenAIEmbedder_ZeroVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0,0]}]}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "q")
	assert.ErrorIs(t, err, ErrZeroVector)
}

func TestOpenAIEmbedder_ErrorKinds(t *testing.T) {
	// Given: a server that rejects the key
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	// When/Then: an API answer is not a network error
	_, err = e.Embed(context.Background(), "q")
	require.Error(t, err)
	assert.NotEqual(t, amerrors.CategoryNetwork, amerrors.GetCategory(err))

	// When/Then: a closed server is a retryable network error
	srv.Close()
	_, err = e.Embed(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, amerrors.CategoryNetwork, amerrors.GetCategory(err))
	assert.True(t, amerrors.IsRetryable(err))
}

func TestOpenAIEmbedder_RequiresKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{})
	assert.Error(t, err)
}
