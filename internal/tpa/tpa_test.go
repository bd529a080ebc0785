package tpa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redhat-appstudio/tssc-test/internal/errkind"
)

func sbomServer(t *testing.T, items []SBOM) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/sbom", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("q"))
		_ = json.NewEncoder(w).Encode(searchPage{Items: items, Total: len(items)})
	}))
}

func TestSearchSBOMs(t *testing.T) {
	srv := sbomServer(t, []SBOM{
		{ID: "1", Name: "go-abcdefgh", DocumentID: "doc-1"},
		{ID: "2", Name: "go-abcdefgh", DocumentID: "doc-2"},
	})
	defer srv.Close()

	client := &Client{http: srv.Client(), baseURL: srv.URL}
	items, err := client.SearchSBOMs(context.Background(), "go-abcdefgh")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestFindSBOMByNameAndDocID(t *testing.T) {
	srv := sbomServer(t, []SBOM{
		{ID: "1", Name: "go-abcdefgh", DocumentID: "doc-1"},
		{ID: "2", Name: "go-abcdefgh", DocumentID: "doc-2"},
	})
	defer srv.Close()

	client := &Client{http: srv.Client(), baseURL: srv.URL}
	sbom, err := client.FindSBOMByNameAndDocID(context.Background(), "go-abcdefgh", "doc-2")
	require.NoError(t, err)
	assert.Equal(t, "2", sbom.ID)

	_, err = client.FindSBOMByNameAndDocID(context.Background(), "go-abcdefgh", "missing")
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))
}

func TestSearchSBOMsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := &Client{http: srv.Client(), baseURL: srv.URL}
	_, err := client.SearchSBOMs(context.Background(), "anything")
	assert.Equal(t, errkind.Unauthorized, errkind.KindOf(err))
}
