// Package integration provides integration testing utilities for hlsaudio.
package integration

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agleyzer/hlsaudio/internal/keys"
	"github.com/agleyzer/hlsaudio/internal/playlist"
)

// TestHarness manages the test environment for integration tests.
type TestHarness struct {
	t          *testing.T
	binary     string
	httpServer *http.Server
	httpPort   int
	serveCmd   *exec.Cmd
	servePort  int
	originDir  string // Files served by the origin
	cancel     context.CancelFunc
}

// NewTestHarness creates a new test harness. The test is skipped when the
// hlsaudio binary has not been built.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	h := &TestHarness{
		t:         t,
		httpPort:  findAvailablePort(t),
		servePort: findAvailablePort(t),
		originDir: t.TempDir(),
	}
	h.binary = h.findBinary()
	return h
}

// OriginURL returns the URL of a file served by the origin.
func (h *TestHarness) OriginURL(name string) string {
	return fmt.Sprintf("http://localhost:%d/%s", h.httpPort, name)
}

// AddFile writes a file into the origin directory.
func (h *TestHarness) AddFile(name string, data []byte) {
	h.t.Helper()

	path := filepath.Join(h.originDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		h.t.Fatalf("failed to create origin dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		h.t.Fatalf("failed to write %s: %v", name, err)
	}
}

// AddEncryptedPlaylist writes an AES-128 playlist, its key and its segments
// under dir and returns the expected decrypted output.
func (h *TestHarness) AddEncryptedPlaylist(dir string, start uint64, plaintexts [][]byte) []byte {
	h.t.Helper()

	key := []byte("integration-key!")
	h.AddFile(dir+"/key.bin", key)

	block, err := aes.NewCipher(key)
	if err != nil {
		h.t.Fatalf("failed to create cipher: %v", err)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:2\n#EXT-X-MEDIA-SEQUENCE:%d\n", start)
	fmt.Fprintf(&text, "#EXT-X-KEY:METHOD=AES-128,URI=\"%s\"\n", h.OriginURL(dir+"/key.bin"))

	var want []byte
	for i, plain := range plaintexts {
		name := fmt.Sprintf("segment%03d.ts", i)
		out := make([]byte, len(plain))
		cipher.NewCBCEncrypter(block, keys.DeriveIV(playlist.SequenceOf(start+uint64(i)))).CryptBlocks(out, plain)
		h.AddFile(dir+"/"+name, out)
		fmt.Fprintf(&text, "#EXTINF:2.0,\n%s\n", name)
		want = append(want, plain...)
	}
	text.WriteString("#EXT-X-ENDLIST\n")

	h.AddFile(dir+"/playlist.m3u8", []byte(text.String()))
	return want
}

// StartHTTPServer starts an HTTP origin serving the origin directory.
func (h *TestHarness) StartHTTPServer() {
	h.t.Helper()

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.Dir(h.originDir)))

	h.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", h.httpPort),
		Handler: mux,
	}

	go func() {
		if err := h.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.t.Logf("HTTP server error: %v", err)
		}
	}()

	h.waitForServer(fmt.Sprintf("http://localhost:%d/", h.httpPort), 5*time.Second)
	h.t.Logf("HTTP origin started on port %d", h.httpPort)
}

// Run executes hlsaudio to completion and returns its stdout.
func (h *TestHarness) Run(args ...string) ([]byte, error) {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, h.binary, args...)
	cmd.Dir = h.t.TempDir()
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if stderr.Len() > 0 {
		h.t.Logf("hlsaudio stderr:\n%s", stderr.String())
	}
	return stdout.Bytes(), err
}

// StartServe starts "hlsaudio serve" and waits for its health endpoint.
func (h *TestHarness) StartServe(args ...string) {
	h.t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	args = append([]string{"serve", "--addr", fmt.Sprintf("127.0.0.1:%d", h.servePort)}, args...)
	h.serveCmd = exec.CommandContext(ctx, h.binary, args...)
	h.serveCmd.Dir = h.t.TempDir()
	h.serveCmd.Stdout = os.Stdout
	h.serveCmd.Stderr = os.Stderr

	if err := h.serveCmd.Start(); err != nil {
		h.t.Fatalf("failed to start hlsaudio serve: %v", err)
	}

	h.waitForServer(h.ServeURL("/health"), 10*time.Second)
	h.t.Logf("hlsaudio serve started on port %d", h.servePort)
}

// ServeURL returns a URL on the running hlsaudio service.
func (h *TestHarness) ServeURL(path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", h.servePort, path)
}

// Get fetches a URL and returns the response with its body read.
func (h *TestHarness) Get(url string) (*http.Response, []byte) {
	h.t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		h.t.Fatalf("failed to fetch %s: %v", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("failed to read body of %s: %v", url, err)
	}
	return resp, body
}

// Cleanup stops all running services.
func (h *TestHarness) Cleanup() {
	h.t.Helper()

	if h.cancel != nil {
		h.cancel()
	}
	if h.serveCmd != nil && h.serveCmd.Process != nil {
		h.serveCmd.Process.Kill()
		h.serveCmd.Wait()
	}

	if h.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.httpServer.Shutdown(ctx)
	}
}

// findBinary locates the hlsaudio binary or skips the test.
func (h *TestHarness) findBinary() string {
	h.t.Helper()

	candidates := []string{
		"../../hlsaudio",          // From test/integration
		"./hlsaudio",              // From project root
		"../hlsaudio",             // From test directory
		"./cmd/hlsaudio/hlsaudio", // Built in place
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, _ := filepath.Abs(path)
			h.t.Logf("Found hlsaudio binary at: %s", absPath)
			return absPath
		}
	}

	h.t.Skip("hlsaudio binary not found. Run 'go build -o hlsaudio ./cmd/hlsaudio' first")
	return ""
}

// waitForServer waits for a server to become available.
func (h *TestHarness) waitForServer(url string, timeout time.Duration) {
	h.t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	h.t.Fatalf("server at %s did not become available within %v", url, timeout)
}

// findAvailablePort finds an available TCP port.
func findAvailablePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}
