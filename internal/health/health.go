// Package health performs startup reachability checks for the external
// services the pipeline depends on.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flexstream/flex-stream/internal/httpclient"
)

// CheckCatalog fetches the catalog configuration endpoint with the given API
// key. Nil means the catalog answered 200 for our key.
func CheckCatalog(ctx context.Context, baseURL, apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("no catalog API key configured")
	}
	return check(ctx, baseURL+"/configuration?api_key="+apiKey, "catalog")
}

// CheckEmbedSource fetches the embed source root. Some origins answer the
// bare root with 404 while embeds work fine, so only transport-level
// failures count.
func CheckEmbedSource(ctx context.Context, baseURL, userAgent string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return err
	}
	httpclient.BrowserHeaders(req, userAgent)
	resp, err := httpclient.WithTimeout(15 * time.Second).Do(req)
	if err != nil {
		return fmt.Errorf("embed source unreachable: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func check(ctx context.Context, url, what string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpclient.WithTimeout(15 * time.Second).Do(req)
	if err != nil {
		return fmt.Errorf("%s unreachable: %w", what, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned HTTP %d", what, resp.StatusCode)
	}
	return nil
}
