package sourceadapter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crashsymbol/symbolicator/internal/fileid"
	"github.com/crashsymbol/symbolicator/internal/sourceconfig"
)

func TestHTTPDownloadFollowsRedirectPreservingHeaders(t *testing.T) {
	var sawAuthOnFinal string
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuthOnFinal = r.Header.Get("X-Custom")
		w.Write([]byte("payload"))
	}))
	defer final.Close()

	redirecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL+"/wntdll.pdb", http.StatusFound)
	}))
	defer redirecting.Close()

	source := sourceconfig.Source{
		ID:      "http-source",
		URL:     redirecting.URL,
		Headers: map[string]string{"X-Custom": "carried-through"},
	}
	h := NewHTTP(source, http.DefaultTransport, nil)
	res, err := h.Download(context.Background(), fileid.FromPath("http-source", "wntdll.pdb"))
	require.NoError(t, err)
	require.NotNil(t, res)
	defer res.Stream.Close()

	body, err := io.ReadAll(res.Stream)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
	assert.Equal(t, "carried-through", sawAuthOnFinal)
}

func TestHTTPDownloadNon2xxIsAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	h := NewHTTP(sourceconfig.Source{ID: "s", URL: srv.URL}, http.DefaultTransport, nil)
	res, err := h.Download(context.Background(), fileid.FromPath("s", "missing.pdb"))
	require.NoError(t, err)
	assert.Nil(t, res)
}
