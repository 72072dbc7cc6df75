// Package dumphttp fetches flight dumps from the departure control system's
// HTTP gateway.
package dumphttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type dumpResp struct {
	Status string `json:"status"`
	Data   struct {
		FlightKey string `json:"flightKey"`
		Dump      string `json:"dump"`
	} `json:"data"`
}

func (c *Client) FetchDump(ctx context.Context, flightKey string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	u.Path = fmt.Sprintf("/dcs/flights/%s/hbpr-dump", url.PathEscape(flightKey))

	q := u.Query()
	q.Set("apiKey", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("dcs gateway http %d", resp.StatusCode)
	}

	var r dumpResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", errors.Wrap(err, "decode")
	}
	if r.Status != "ok" {
		return "", fmt.Errorf("dcs gateway status=%s", r.Status)
	}
	if r.Data.Dump == "" {
		return "", errors.New("dcs gateway returned empty dump")
	}
	return r.Data.Dump, nil
}
