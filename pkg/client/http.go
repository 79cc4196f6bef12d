// Package client is a small HTTP client for the scan worker API.
package client

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tweetwatch/scan-worker/api/types"
)

// Client represents a client to interact with the scan worker.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	options    *Options
}

// NewClient creates a new Client instance.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	options, err := NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		MaxConnsPerHost:     options.MaxConnsPerHost,
		MaxIdleConns:        options.MaxIdleConns,
		MaxIdleConnsPerHost: options.MaxIdleConnsPerHost,
		IdleConnTimeout:     options.IdleConnTimeout,
	}
	if options.ignoreTLSCert {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout:   options.Timeout,
			Transport: transport,
		},
		options: options,
	}, nil
}

// TrackProfile asks the worker to start tracking a username. The returned
// response includes the resolved profile and the number of scan tasks queued.
func (c *Client) TrackProfile(username string) (*types.TrackResponse, error) {
	out := &types.TrackResponse{}
	err := c.do(http.MethodPost, "/profile", types.TrackRequest{Username: username}, out)
	return out, err
}

// GetProfile retrieves the stored state of a tracked profile.
func (c *Client) GetProfile(username string) (*types.Profile, error) {
	out := &types.Profile{}
	err := c.do(http.MethodGet, "/profile/"+url.PathEscape(username), nil, out)
	return out, err
}

// GetDeletedTweets retrieves the confirmed deleted tweets of a profile.
func (c *Client) GetDeletedTweets(username string) ([]types.Tweet, error) {
	var out []types.Tweet
	err := c.do(http.MethodGet, "/profile/"+url.PathEscape(username)+"/deleted", nil, &out)
	return out, err
}

// Rescan queues a manual rescan. With sinceBeginning the rescan covers the
// whole timeline instead of starting at the checkpoint.
func (c *Client) Rescan(username string, sinceBeginning bool) (*types.RescanResponse, error) {
	path := "/profile/" + url.PathEscape(username) + "/rescan"
	if sinceBeginning {
		path += "?since_beginning=true"
	}
	out := &types.RescanResponse{}
	err := c.do(http.MethodPost, path, nil, out)
	return out, err
}

// QueueStats retrieves the pending task count per task type.
func (c *Client) QueueStats() (map[string]int64, error) {
	out := map[string]int64{}
	err := c.do(http.MethodGet, "/queue/stats", nil, &out)
	return out, err
}

func (c *Client) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		body = bytes.NewBuffer(payload)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.options.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.options.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending %s request to %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := types.APIError{}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("error: %s (status code %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("error: received status code %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("error unmarshaling response: %w", err)
	}
	return nil
}
