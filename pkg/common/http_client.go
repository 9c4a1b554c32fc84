package common

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Post sends a POST request to the specified URL with the given payload and headers.
// It returns the decoded response body or an error.
func Post(url string, payload interface{}, headers map[string]string) (interface{}, error) {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeBody(resp.Body)
}

// Get sends a GET request to the specified URL with the given headers.
// It returns the decoded response body or an error.
func Get(url string, headers map[string]string) (interface{}, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeBody(resp.Body)
}

// decodeBody returns the body as parsed JSON when possible, raw string
// otherwise.
func decodeBody(body io.Reader) (interface{}, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	var result interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return string(raw), nil
		}
	}
	return result, nil
}
