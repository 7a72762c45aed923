package requests

// requests is a library for making JSON requests to HTTP APIs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

func RequestJSON[T any](method, url string, body any) (response *T, err error) {
	var bodyR io.Reader
	if body != nil {
		bodyB, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyR = bytes.NewReader(bodyB)
	}
	req, err := http.NewRequest(method, url, bodyR)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return DoJSON[T](http.DefaultClient, req)
}

// Execute the request, and decode a JSON response.
// A status code of 300 or above is returned as an error, which includes the response body.
func DoJSON[T any](client *http.Client, req *http.Request) (response *T, err error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%v. %v", resp.Status, string(msg))
	}
	var responseObj T
	if err := json.NewDecoder(resp.Body).Decode(&responseObj); err != nil {
		return nil, fmt.Errorf("%v. %w", resp.Status, err)
	}
	response = &responseObj
	return
}
