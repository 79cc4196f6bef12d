// Package archive talks to the Wayback Machine: it resolves the latest
// existing snapshot of a URL, or requests a new one when none exists.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	availabilityEndpoint = "https://archive.org/wayback/available"
	saveEndpoint         = "https://web.archive.org/save/"

	userAgent = "Mozilla/5.0 (Windows NT 5.1; rv:40.0) Gecko/20100101 Firefox/40.0"
)

// Archiver is the snapshot collaborator consumed by the archive task handler.
type Archiver interface {
	// LatestOrCreateSnapshot returns the URL of the most recent snapshot of
	// target, creating one if none exists yet.
	LatestOrCreateSnapshot(ctx context.Context, target string) (string, error)
}

// WaybackClient implements Archiver against web.archive.org.
type WaybackClient struct {
	client *http.Client
}

func NewWaybackClient(timeout time.Duration) *WaybackClient {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &WaybackClient{
		client: &http.Client{Timeout: timeout},
	}
}

func (w *WaybackClient) LatestOrCreateSnapshot(ctx context.Context, target string) (string, error) {
	snapshot, err := w.latestSnapshot(ctx, target)
	if err != nil {
		return "", err
	}
	if snapshot != "" {
		logrus.Debugf("Found existing snapshot for %s: %s", target, snapshot)
		return snapshot, nil
	}
	return w.createSnapshot(ctx, target)
}

// latestSnapshot queries the availability API. An empty result is not an
// error: it means no snapshot exists yet.
func (w *WaybackClient) latestSnapshot(ctx context.Context, target string) (string, error) {
	endpoint := availabilityEndpoint + "?url=" + url.QueryEscape(target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("availability lookup failed for %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("availability lookup for %s returned status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var payload struct {
		ArchivedSnapshots struct {
			Closest struct {
				Available bool   `json:"available"`
				URL       string `json:"url"`
			} `json:"closest"`
		} `json:"archived_snapshots"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("unexpected availability response for %s: %w", target, err)
	}

	if !payload.ArchivedSnapshots.Closest.Available {
		return "", nil
	}
	return payload.ArchivedSnapshots.Closest.URL, nil
}

// createSnapshot submits the URL to Save Page Now and returns the snapshot
// URL it lands on.
func (w *WaybackClient) createSnapshot(ctx context.Context, target string) (string, error) {
	logrus.Infof("Requesting new snapshot for %s", target)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, saveEndpoint+target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("snapshot request failed for %s: %w", target, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("snapshot request for %s returned status %d", target, resp.StatusCode)
	}

	// Save Page Now announces the snapshot either via Content-Location or by
	// redirecting to the /web/<timestamp>/ URL.
	if loc := resp.Header.Get("Content-Location"); loc != "" {
		return "https://web.archive.org" + loc, nil
	}
	final := resp.Request.URL.String()
	if final == saveEndpoint+target {
		return "", fmt.Errorf("snapshot request for %s did not return a snapshot location", target)
	}
	return final, nil
}
