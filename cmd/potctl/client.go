package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

// getJSON fetches path (with optional query parameters) from the configured
// server and decodes the response into out.
func getJSON(path string, query url.Values, out interface{}) error {
	u := strings.TrimSuffix(serverAddr, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	resp, err := httpClient.Get(u)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", serverAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// postJSON issues a POST and decodes the response into out when out is not
// nil.
func postJSON(path string, query url.Values, out interface{}) error {
	u := strings.TrimSuffix(serverAddr, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	resp, err := httpClient.Post(u, "application/json", nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", serverAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("server returned %s: %s", resp.Status, payload.Error)
	}
	return fmt.Errorf("server returned %s", resp.Status)
}
