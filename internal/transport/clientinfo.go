package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dunglas/httpsfv"
)

// ClientHeader identifies the client app to the backend.
// Format: app="storefront", version="v1.2.0" (RFC 8941 Dictionary).
const ClientHeader = "Storefront-Client"

// FormatClientHeader serializes the app name and version as a structured
// dictionary. An empty version is omitted.
func FormatClientHeader(app, version string) (string, error) {
	if app == "" {
		return "", errors.New("app name is required")
	}

	dict := httpsfv.NewDictionary()
	dict.Add("app", httpsfv.NewItem(app))
	if version != "" {
		dict.Add("version", httpsfv.NewItem(version))
	}

	return httpsfv.Marshal(dict)
}

// ParseClientHeader extracts app and version from a Storefront-Client header.
func ParseClientHeader(header string) (app, version string, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", "", errors.New("empty Storefront-Client header")
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return "", "", fmt.Errorf("invalid Storefront-Client header: %w", err)
	}

	app, err = stringMember(dict, "app")
	if err != nil {
		return "", "", err
	}
	if _, ok := dict.Get("version"); ok {
		version, err = stringMember(dict, "version")
		if err != nil {
			return "", "", err
		}
	}
	return app, version, nil
}

func stringMember(dict *httpsfv.Dictionary, key string) (string, error) {
	member, ok := dict.Get(key)
	if !ok {
		return "", fmt.Errorf("%s key not found in Storefront-Client header", key)
	}
	item, ok := member.(httpsfv.Item)
	if !ok {
		return "", fmt.Errorf("%s value must be an item", key)
	}
	s, ok := item.Value.(string)
	if !ok {
		return "", fmt.Errorf("%s value must be a string", key)
	}
	return s, nil
}

// clientInfo stamps the Storefront-Client header onto every request.
type clientInfo struct {
	next   http.RoundTripper
	header string
}

// NewClientInfo wraps next so every request carries the Storefront-Client
// header. If the header cannot be formatted, next is returned unchanged.
func NewClientInfo(next http.RoundTripper, app, version string) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	header, err := FormatClientHeader(app, version)
	if err != nil {
		return next
	}
	return &clientInfo{next: next, header: header}
}

// RoundTrip implements http.RoundTripper. The request is cloned, never mutated.
func (c *clientInfo) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set(ClientHeader, c.header)
	return c.next.RoundTrip(r)
}
