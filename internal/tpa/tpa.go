// Package tpa queries the Trusted Profile Analyzer SBOM store. Access
// tokens come from the OIDC client-credentials grant; the oauth2 transport
// refreshes them transparently.
package tpa

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/redhat-appstudio/tssc-test/internal/config"
	"github.com/redhat-appstudio/tssc-test/internal/errkind"
)

// SBOM is one stored document as the search endpoint reports it.
type SBOM struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DocumentID string `json:"document_id"`
	Published  string `json:"published,omitempty"`
}

// Client talks to one TPA instance.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient reads the TPA coordinates from the environment and builds an
// authenticated client.
func NewClient(ctx context.Context) (*Client, error) {
	baseURL, err := config.Require(config.EnvTPAURL)
	if err != nil {
		return nil, err
	}
	tokenURL, err := config.Require(config.EnvTPATokenURL)
	if err != nil {
		return nil, err
	}
	clientID, err := config.Require(config.EnvTPAClientID)
	if err != nil {
		return nil, err
	}
	clientSecret, err := config.Require(config.EnvTPAClientSecret)
	if err != nil {
		return nil, err
	}

	cfg := clientcredentials.Config{
		TokenURL:     tokenURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}
	return &Client{
		http:    cfg.Client(ctx),
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

type searchPage struct {
	Items []SBOM `json:"items"`
	Total int    `json:"total"`
}

// SearchSBOMs returns the stored documents whose name matches query.
func (c *Client) SearchSBOMs(ctx context.Context, query string) ([]SBOM, error) {
	endpoint := fmt.Sprintf("%s/api/v2/sbom?q=%s", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.Unknown, err, "building SBOM search request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientNetwork, err, "searching SBOMs for %q", query)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientNetwork, err, "reading SBOM search response")
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, errkind.New(errkind.Unauthorized, "SBOM search rejected: %s", strings.TrimSpace(string(data)))
	default:
		return nil, errkind.New(errkind.TransientProvider, "SBOM search returned %d", resp.StatusCode)
	}

	var page searchPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, errkind.Wrap(errkind.TransientProvider, err, "decoding SBOM search response")
	}
	return page.Items, nil
}

// FindSBOMByNameAndDocID returns the stored document matching both the
// component name and the document identifier the build attested.
func (c *Client) FindSBOMByNameAndDocID(ctx context.Context, name, documentID string) (*SBOM, error) {
	items, err := c.SearchSBOMs(ctx, name)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].DocumentID == documentID {
			return &items[i], nil
		}
	}
	return nil, errkind.New(errkind.NotFound, "no SBOM named %q with document id %q", name, documentID)
}
