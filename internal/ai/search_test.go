package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "chatflow/internal/errors"
	"chatflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSearcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "東京 天気", r.URL.Query().Get("q"))
		assert.Equal(t, "3", r.URL.Query().Get("count"))
		_, _ = w.Write([]byte(`{"web":{"results":[{"title":"天気予報","url":"https://example.com","description":"<strong>晴れ</strong>のち曇り"}]}}`))
	}))
	defer server.Close()

	s := NewWebSearcher(models.SearchConfig{BaseURL: server.URL, APIKey: "key"})
	results, err := s.Search(context.Background(), "東京 天気", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "晴れのち曇り", results[0].Snippet)
	assert.Contains(t, FormatResults(results), "[1] 天気予報\nhttps://example.com")
}

func TestWebSearcher_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	s := NewWebSearcher(models.SearchConfig{BaseURL: server.URL})
	_, err := s.Search(context.Background(), "q", 0)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSearchAPI, apperrors.GetCode(err))
}
