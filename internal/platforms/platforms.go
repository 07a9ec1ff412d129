package platforms

import (
	"io"
	"net/http"

	"copyrelay/internal/core"
)

// doPlatformRequest executes req and classifies failures through the shared
// error taxonomy so retry and breaker wrappers see correct transience.
func doPlatformRequest(client *http.Client, req *http.Request, service string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, core.NewTransientError(service, "platform request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewTransientError(service, "read platform response", err)
	}

	if resp.StatusCode >= 400 {
		return nil, core.ParseUpstreamError(service, resp.StatusCode, body, nil)
	}
	return body, nil
}
