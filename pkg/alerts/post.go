package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const userAgent = "costwatch/1.0"

// httpClient has no timeout of its own; the dispatcher bounds every send
// through the context.
var httpClient = &http.Client{}

// postJSON marshals v and posts it to url. Any status outside 2xx is an
// error that names the destination.
func postJSON(ctx context.Context, client *http.Client, dest, url string, v any, header http.Header) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", dest, err)
	}
	return postBody(ctx, client, dest, url, body, header)
}

func postBody(ctx context.Context, client *http.Client, dest, url string, body []byte, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", dest, err)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s alert: %w", dest, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", dest, resp.StatusCode)
	}
	return nil
}
