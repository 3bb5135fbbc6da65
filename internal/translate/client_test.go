package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fictionharvest/harvester/internal/config"
	"github.com/fictionharvest/harvester/internal/harvest"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.TranslatorConfig{
		Endpoint:       srv.URL,
		APIKey:         "test-key",
		Model:          "test-model",
		TargetLanguage: "es",
		TimeoutSec:     5,
	}, zap.NewNop())
}

func TestTranslateSendsRequestAndDecodes(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req translateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "es", req.TargetLanguage)
		require.Equal(t, "hello world", req.Text)
		require.Equal(t, "Work Title - Chapter 1", req.Context)

		_ = json.NewEncoder(w).Encode(translateResponse{Translation: "hola mundo"})
	})

	out, err := c.Translate(context.Background(), "hello world", "Work Title - Chapter 1")
	require.NoError(t, err)
	require.Equal(t, "hola mundo", out)
	require.Equal(t, "test-model", c.Identity())
}

func TestTranslateQuotaIsCapabilityFailure(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Translate(context.Background(), "text", "")
	var tf *harvest.TranslationFailure
	require.ErrorAs(t, err, &tf)
	require.Equal(t, "quota", tf.Reason)
}

func TestTranslateMalformedResponse(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	})

	_, err := c.Translate(context.Background(), "text", "")
	var tf *harvest.TranslationFailure
	require.ErrorAs(t, err, &tf)
	require.Equal(t, "malformed", tf.Reason)
}

func TestTranslateEmptyTranslationRejected(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(translateResponse{Translation: "   "})
	})

	_, err := c.Translate(context.Background(), "text", "")
	var tf *harvest.TranslationFailure
	require.ErrorAs(t, err, &tf)
	require.Equal(t, "malformed", tf.Reason)
}

func TestTranslateUpstreamError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Translate(context.Background(), "text", "")
	var tf *harvest.TranslationFailure
	require.ErrorAs(t, err, &tf)
	require.Equal(t, "upstream", tf.Reason)
}

func TestTranslateAPIErrorField(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(translateResponse{Error: "model overloaded"})
	})

	_, err := c.Translate(context.Background(), "text", "")
	var tf *harvest.TranslationFailure
	require.ErrorAs(t, err, &tf)
	require.Equal(t, "rejected", tf.Reason)
}
