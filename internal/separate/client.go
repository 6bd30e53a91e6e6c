// Package separate talks to a stem separation service: submit a mixture,
// poll the job, and resolve the resulting stem files into a manifest the
// engine can load.
package separate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemcast/stemcast/internal/stem"
)

// Client communicates with the separation service REST API.
type Client struct {
	apiURL    string
	apiKey    string
	outputDir string // shared volume mount point
	log       zerolog.Logger
	http      *http.Client
}

// NewClient creates a separation API client.
func NewClient(apiURL, apiKey, outputDir string, log zerolog.Logger) *Client {
	return &Client{
		apiURL:    apiURL,
		apiKey:    apiKey,
		outputDir: outputDir,
		log:       log.With().Str("component", "separate").Logger(),
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

type submitResp struct {
	Data struct {
		JobID string `json:"job_id"`
	} `json:"data"`
	Code  int    `json:"code"`
	Error string `json:"error"`
}

type jobResp struct {
	Data struct {
		JobID  string            `json:"job_id"`
		Title  string            `json:"title"`
		Status string            `json:"status"` // queued, running, done, failed
		Error  string            `json:"error"`
		Stems  map[string]string `json:"stems"` // stem name -> file reference
	} `json:"data"`
	Code int `json:"code"`
}

// WaitForHealthy blocks until the separation API responds to health checks.
func (c *Client) WaitForHealthy(ctx context.Context) error {
	c.log.Info().Str("url", c.apiURL).Msg("waiting for separation service")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		resp, err := c.http.Get(c.apiURL + "/health")
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			c.log.Info().Msg("separation service is healthy")
			return nil
		}
		if resp != nil {
			resp.Body.Close()
		}

		c.log.Debug().Msg("separation service not ready, retrying in 5s")
		time.Sleep(5 * time.Second)
	}
}

// Separate submits a mixture for separation and returns the job id. The
// mixture path must be visible to the service, typically on the shared
// volume.
func (c *Client) Separate(ctx context.Context, mixturePath string) (string, error) {
	names := make([]string, 0, len(stem.Order))
	for _, n := range stem.Order {
		names = append(names, n.String())
	}
	title := strings.TrimSuffix(filepath.Base(mixturePath), filepath.Ext(mixturePath))

	body, err := json.Marshal(map[string]any{
		"audio_path": mixturePath,
		"title":      title,
		"stems":      names,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.apiURL+"/api/v1/separate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	defer resp.Body.Close()

	var result submitResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if result.Code != 200 {
		return "", fmt.Errorf("API error (code %d): %s", result.Code, result.Error)
	}

	c.log.Info().Str("job", result.Data.JobID).Str("mixture", mixturePath).Msg("separation submitted")
	return result.Data.JobID, nil
}

// PollUntilDone polls for job completion and resolves the stem files into
// a manifest. Transient poll errors retry at the given interval.
func (c *Client) PollUntilDone(ctx context.Context, jobID string, interval time.Duration) (stem.Manifest, error) {
	for {
		select {
		case <-ctx.Done():
			return stem.Manifest{}, ctx.Err()
		default:
		}

		httpReq, err := http.NewRequestWithContext(ctx, "GET", c.apiURL+"/api/v1/jobs/"+jobID, nil)
		if err != nil {
			return stem.Manifest{}, fmt.Errorf("create poll request: %w", err)
		}
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			c.log.Warn().Err(err).Msg("poll failed, retrying")
			time.Sleep(interval)
			continue
		}

		var result jobResp
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			resp.Body.Close()
			c.log.Warn().Err(err).Msg("poll decode failed, retrying")
			time.Sleep(interval)
			continue
		}
		resp.Body.Close()

		switch result.Data.Status {
		case "done":
			return c.buildManifest(result)
		case "failed":
			return stem.Manifest{}, fmt.Errorf("separation failed for job %s: %s", jobID, result.Data.Error)
		default: // queued or running
			time.Sleep(interval)
		}
	}
}

// buildManifest resolves every reported stem file. A stem the service did
// not deliver is left out of the manifest; the loader treats absence the
// same as failure.
func (c *Client) buildManifest(result jobResp) (stem.Manifest, error) {
	m := stem.Manifest{
		Title: result.Data.Title,
		Paths: make(map[stem.Name]string, len(result.Data.Stems)),
	}
	for _, n := range stem.Order {
		ref, ok := result.Data.Stems[n.String()]
		if !ok || ref == "" {
			c.log.Warn().Str("stem", n.String()).Msg("stem missing from separation result")
			continue
		}
		path, err := c.resolveStem(ref)
		if err != nil {
			return stem.Manifest{}, fmt.Errorf("resolve %s: %w", n, err)
		}
		m.Paths[n] = path
	}
	if len(m.Paths) == 0 {
		return stem.Manifest{}, fmt.Errorf("no stem files in separation result")
	}
	return m, nil
}

// resolveStem turns a file reference into a local path. References look
// like "/api/v1/audio?path=jobs/xxx/vocals.wav"; the shared volume is
// tried first, with an HTTP download as fallback.
func (c *Client) resolveStem(ref string) (string, error) {
	if u, err := url.Parse(ref); err == nil {
		if relPath := u.Query().Get("path"); relPath != "" {
			localPath := filepath.Join(c.outputDir, relPath)
			if _, err := os.Stat(localPath); err == nil {
				return localPath, nil
			}
		}
	}
	return c.download(ref)
}

// download fetches a stem file from the API and saves it locally.
func (c *Client) download(ref string) (string, error) {
	resp, err := c.http.Get(c.apiURL + ref)
	if err != nil {
		return "", fmt.Errorf("download stem: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download stem: status %s", resp.Status)
	}

	tmpFile, err := os.CreateTemp("", "stemcast-*"+refExt(ref))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("write stem: %w", err)
	}

	tmpFile.Close()
	return tmpFile.Name(), nil
}

// refExt pulls the file extension out of a stem reference so downloaded
// files keep a decodable suffix.
func refExt(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ".wav"
	}
	ext := path.Ext(u.Path)
	if p := u.Query().Get("path"); p != "" {
		ext = path.Ext(p)
	}
	if ext == "" {
		ext = ".wav"
	}
	return ext
}
