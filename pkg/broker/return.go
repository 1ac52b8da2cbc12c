package broker

import (
	"fmt"
	"net/url"
)

// originOf returns the ASCII-serialized origin (scheme://host) of rawURL.
// rawURL must be an absolute URL.
func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// returnToRelier builds the redirect back to the RP's redirect_uri, placing
// params in the query string (response_mode "query" or unset) or in the
// fragment (response_mode "fragment").
func returnToRelier(redirectURI, responseMode string, params map[string]string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("parse redirect_uri %q: %w", redirectURI, err)
	}

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	if responseMode == "fragment" {
		u.Fragment = values.Encode()
		return u.String(), nil
	}

	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
