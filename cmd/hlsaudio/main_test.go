package main

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agleyzer/hlsaudio/internal/keys"
	"github.com/agleyzer/hlsaudio/internal/playlist"
)

// runCmd executes the root command with args in a clean working directory.
func runCmd(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	return runCmdIn(t, t.TempDir(), stdin, args...)
}

// runCmdIn executes the root command with args from dir.
func runCmdIn(t *testing.T, dir, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Chdir(dir)

	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// createEncryptedFixture writes a two-segment AES-128 playlist with media sequence 5.
func createEncryptedFixture(t *testing.T) (dir string, want []byte) {
	t.Helper()
	dir = t.TempDir()
	text, want := writeEncryptedPlaylist(t, dir, "key.bin")
	writeFile(t, filepath.Join(dir, "list.m3u8"), []byte(text))
	return dir, want
}

// writeEncryptedPlaylist writes the key at dir/keyURI and two encrypted segments
// next to it, and returns playlist text naming the segments without a directory.
func writeEncryptedPlaylist(t *testing.T, dir, keyURI string) (string, []byte) {
	t.Helper()

	keyPath := filepath.Join(dir, filepath.FromSlash(keyURI))
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o755); err != nil {
		t.Fatalf("failed to create key dir: %v", err)
	}

	key := []byte("0123456789abcdef")
	writeFile(t, keyPath, key)

	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("failed to create cipher: %v", err)
	}

	var want []byte
	for i, plain := range [][]byte{bytes.Repeat([]byte("A"), 32), bytes.Repeat([]byte("B"), 16)} {
		out := make([]byte, len(plain))
		cipher.NewCBCEncrypter(block, keys.DeriveIV(playlist.SequenceOf(uint64(5+i)))).CryptBlocks(out, plain)
		writeFile(t, filepath.Join(filepath.Dir(keyPath), []string{"seg5.ts", "seg6.ts"}[i]), out)
		want = append(want, plain...)
	}

	text := `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:5
#EXT-X-KEY:METHOD=AES-128,URI="` + keyURI + `"
#EXTINF:10.0,
seg5.ts
#EXTINF:10.0,
seg6.ts
#EXT-X-ENDLIST
`
	return text, want
}

func TestRoot_ConvertToFile(t *testing.T) {
	dir, want := createEncryptedFixture(t)
	output := filepath.Join(dir, "out.mp3")

	_, stderr, err := runCmd(t, "", "-o", output, "--concurrency", "2", filepath.Join(dir, "list.m3u8"))
	if err != nil {
		t.Fatalf("Expected no error, got %v (stderr: %s)", err, stderr)
	}

	got, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Output does not match plaintext segments")
	}
}

func TestRoot_ConvertToStdout(t *testing.T) {
	dir, want := createEncryptedFixture(t)

	stdout, _, err := runCmd(t, "", filepath.Join(dir, "list.m3u8"))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if stdout != string(want) {
		t.Errorf("Expected decrypted audio on stdout, got %d bytes", len(stdout))
	}
}

func TestRoot_StdinNeedsBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.ts"), []byte("AAA"))
	text := "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXTINF:10.0,\na.ts\n#EXT-X-ENDLIST\n"

	_, _, err := runCmd(t, text, "-")
	if err == nil || !strings.Contains(err.Error(), "host location not set") {
		t.Fatalf("Expected missing base error, got %v", err)
	}

	stdout, _, err := runCmd(t, text, "--base", dir, "-")
	if err != nil {
		t.Fatalf("Expected no error with --base, got %v", err)
	}
	if stdout != "AAA" {
		t.Errorf("Expected AAA, got %q", stdout)
	}
}

func TestRoot_StdinKeyDerivedBase(t *testing.T) {
	for _, keyURI := range []string{"k.bin", "keys/k.bin"} {
		t.Run(keyURI, func(t *testing.T) {
			dir := t.TempDir()
			text, want := writeEncryptedPlaylist(t, dir, keyURI)

			stdout, stderr, err := runCmdIn(t, dir, text, "-")
			if err != nil {
				t.Fatalf("Expected no error, got %v (stderr: %s)", err, stderr)
			}
			if stdout != string(want) {
				t.Errorf("Expected decrypted audio on stdout, got %d bytes", len(stdout))
			}
		})
	}
}

func TestRoot_MissingSegmentLeavesNoOutput(t *testing.T) {
	dir, _ := createEncryptedFixture(t)
	if err := os.Remove(filepath.Join(dir, "seg6.ts")); err != nil {
		t.Fatalf("failed to remove segment: %v", err)
	}
	output := filepath.Join(dir, "out.mp3")

	if _, _, err := runCmd(t, "", "-o", output, filepath.Join(dir, "list.m3u8")); err == nil {
		t.Fatal("Expected error for missing segment")
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Errorf("Expected no output file, got %v", err)
	}
}

func TestRoot_Args(t *testing.T) {
	if _, _, err := runCmd(t, ""); err == nil {
		t.Error("Expected error without a playlist argument")
	}
	if _, _, err := runCmd(t, "", "--padding", "zero", "x.m3u8"); err == nil {
		t.Error("Expected error for invalid padding")
	}
}

func TestInspect(t *testing.T) {
	dir, _ := createEncryptedFixture(t)

	stdout, _, err := runCmd(t, "", "inspect", filepath.Join(dir, "list.m3u8"))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	for _, want := range []string{
		"media sequence: 5",
		"segments:       2 (2 encrypted)",
		"(key)",
		"AES-128",
		filepath.Join(dir, "key.bin"),
		filepath.Join(dir, "seg6.ts"),
	} {
		if !strings.Contains(stdout, want) {
			t.Errorf("Inspect output missing %q:\n%s", want, stdout)
		}
	}
}

func TestParseHeaders(t *testing.T) {
	headers, err := parseHeaders([]string{"User-Agent: hlsaudio", "Cookie:a=b:c"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if headers["User-Agent"] != "hlsaudio" || headers["Cookie"] != "a=b:c" {
		t.Errorf("Unexpected headers %v", headers)
	}

	for _, bad := range []string{"NoColon", ": value"} {
		if _, err := parseHeaders([]string{bad}); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestVersion(t *testing.T) {
	stdout, _, err := runCmd(t, "", "--version")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(stdout, version) {
		t.Errorf("Expected version %s in output, got %q", version, stdout)
	}
}
