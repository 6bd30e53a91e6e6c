package separate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemcast/stemcast/internal/stem"
)

func newTestClient(apiURL, outputDir string) *Client {
	return NewClient(apiURL, "test-key", outputDir, zerolog.Nop())
}

// --- Submit ---

func TestSeparateSubmitsJob(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/api/v1/separate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		fmt.Fprint(w, `{"data":{"job_id":"job-1"},"code":200}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, t.TempDir())
	id, err := c.Separate(context.Background(), "/music/song.flac")
	if err != nil {
		t.Fatalf("Separate: %v", err)
	}
	if id != "job-1" {
		t.Errorf("job id = %q, want job-1", id)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotBody["audio_path"] != "/music/song.flac" {
		t.Errorf("audio_path = %v", gotBody["audio_path"])
	}
	if gotBody["title"] != "song" {
		t.Errorf("title = %v", gotBody["title"])
	}
	stems, ok := gotBody["stems"].([]any)
	if !ok || len(stems) != len(stem.Order) {
		t.Errorf("stems = %v, want all %d", gotBody["stems"], len(stem.Order))
	}
}

func TestSeparateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":500,"error":"model not loaded"}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, t.TempDir())
	_, err := c.Separate(context.Background(), "/music/song.flac")
	if err == nil || !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("err = %v, want API error", err)
	}
}

// --- Poll ---

func jobJSON(status string, stems map[string]string, errMsg string) string {
	data, _ := json.Marshal(map[string]any{
		"data": map[string]any{
			"job_id": "job-1",
			"title":  "song",
			"status": status,
			"error":  errMsg,
			"stems":  stems,
		},
		"code": 200,
	})
	return string(data)
}

func TestPollResolvesSharedVolume(t *testing.T) {
	outDir := t.TempDir()
	stemDir := filepath.Join(outDir, "jobs", "job-1")
	if err := os.MkdirAll(stemDir, 0o755); err != nil {
		t.Fatal(err)
	}
	refs := make(map[string]string)
	for _, n := range stem.Order {
		rel := filepath.Join("jobs", "job-1", n.String()+".wav")
		if err := os.WriteFile(filepath.Join(outDir, rel), []byte("RIFF"), 0o644); err != nil {
			t.Fatal(err)
		}
		refs[n.String()] = "/api/v1/audio?path=" + rel
	}

	var mu sync.Mutex
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/jobs/job-1" {
			t.Errorf("unexpected poll path %s", r.URL.Path)
		}
		mu.Lock()
		polls++
		n := polls
		mu.Unlock()
		if n == 1 {
			fmt.Fprint(w, jobJSON("running", nil, ""))
			return
		}
		fmt.Fprint(w, jobJSON("done", refs, ""))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, outDir)
	m, err := c.PollUntilDone(context.Background(), "job-1", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("PollUntilDone: %v", err)
	}
	if m.Title != "song" {
		t.Errorf("title = %q, want song", m.Title)
	}
	if len(m.Paths) != len(stem.Order) {
		t.Fatalf("got %d stems, want %d", len(m.Paths), len(stem.Order))
	}
	for _, n := range stem.Order {
		want := filepath.Join(outDir, "jobs", "job-1", n.String()+".wav")
		if m.Paths[n] != want {
			t.Errorf("%s path = %q, want %q", n, m.Paths[n], want)
		}
	}
	mu.Lock()
	if polls < 2 {
		t.Errorf("polls = %d, want at least 2", polls)
	}
	mu.Unlock()
}

func TestPollDownloadsWhenVolumeMisses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, jobJSON("done", map[string]string{"vocals": "/files/vocals.wav"}, ""))
	})
	mux.HandleFunc("/files/vocals.wav", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("downloaded-bytes"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL, t.TempDir())
	m, err := c.PollUntilDone(context.Background(), "job-1", time.Millisecond)
	if err != nil {
		t.Fatalf("PollUntilDone: %v", err)
	}
	p, ok := m.Paths[stem.Vocals]
	if !ok {
		t.Fatal("vocals missing from manifest")
	}
	defer os.Remove(p)
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read downloaded stem: %v", err)
	}
	if string(data) != "downloaded-bytes" {
		t.Errorf("downloaded content = %q", data)
	}
	if filepath.Ext(p) != ".wav" {
		t.Errorf("downloaded ext = %q, want .wav", filepath.Ext(p))
	}
}

func TestPollPartialStems(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, jobJSON("done", map[string]string{
			"vocals": "/files/vocals.wav",
			"drums":  "/files/drums.wav",
		}, ""))
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL, t.TempDir())
	m, err := c.PollUntilDone(context.Background(), "job-1", time.Millisecond)
	if err != nil {
		t.Fatalf("PollUntilDone: %v", err)
	}
	for _, p := range m.Paths {
		defer os.Remove(p)
	}
	if len(m.Paths) != 2 {
		t.Errorf("got %d stems, want 2", len(m.Paths))
	}
	if _, ok := m.Paths[stem.Bass]; ok {
		t.Error("bass should be absent")
	}
}

func TestPollJobFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, jobJSON("failed", nil, "out of memory"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, t.TempDir())
	_, err := c.PollUntilDone(context.Background(), "job-1", time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "out of memory") {
		t.Errorf("err = %v, want separation failure", err)
	}
}

func TestPollContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, jobJSON("running", nil, ""))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newTestClient(srv.URL, t.TempDir())
	_, err := c.PollUntilDone(ctx, "job-1", time.Millisecond)
	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// --- Health ---

func TestWaitForHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, t.TempDir())
	if err := c.WaitForHealthy(context.Background()); err != nil {
		t.Fatalf("WaitForHealthy: %v", err)
	}
}

// --- Helpers ---

func TestRefExt(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"/api/v1/audio?path=jobs/x/vocals.flac", ".flac"},
		{"/files/drums.mp3", ".mp3"},
		{"/files/noext", ".wav"},
		{"", ".wav"},
	}
	for _, tt := range tests {
		if got := refExt(tt.ref); got != tt.want {
			t.Errorf("refExt(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}
