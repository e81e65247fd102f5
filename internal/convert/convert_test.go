package convert

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agleyzer/hlsaudio/internal/decrypt"
	"github.com/agleyzer/hlsaudio/internal/keys"
	"github.com/agleyzer/hlsaudio/internal/parser"
	"github.com/agleyzer/hlsaudio/internal/playlist"
	"github.com/agleyzer/hlsaudio/internal/segment"
	"github.com/agleyzer/hlsaudio/internal/source"
	"github.com/hashicorp/go-hclog"
)

// fakeSource serves fixed content and counts fetches per location.
type fakeSource struct {
	mu      sync.Mutex
	content map[string][]byte
	calls   map[string]int
	delay   func(location string) time.Duration
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		content: make(map[string][]byte),
		calls:   make(map[string]int),
	}
}

func (f *fakeSource) Fetch(ctx context.Context, location string) ([]byte, error) {
	f.mu.Lock()
	f.calls[location]++
	data, ok := f.content[location]
	delay := f.delay
	f.mu.Unlock()

	if delay != nil {
		select {
		case <-time.After(delay(location)):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", source.ErrRetrieval, location, ctx.Err())
		}
	}

	if !ok {
		return nil, fmt.Errorf("%w: %s: not found", source.ErrRetrieval, location)
	}
	return data, nil
}

func (f *fakeSource) count(location string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[location]
}

func encryptSegment(t *testing.T, plain, key []byte, seq playlist.Sequence) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("failed to create cipher: %v", err)
	}
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, keys.DeriveIV(seq)).CryptBlocks(out, plain)
	return out
}

func newConverter(src source.Source, opts Options) *Converter {
	return New(src, opts, hclog.NewNullLogger())
}

func TestConvert_Unencrypted(t *testing.T) {
	src := newFakeSource()
	src.content["https://cdn.example.com/a/seg0.ts"] = []byte("AAA")
	src.content["https://cdn.example.com/a/seg1.ts"] = []byte("BBB")
	src.content["https://cdn.example.com/a/seg2.ts"] = []byte("CCC")

	text := `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXTINF:10.0,
https://cdn.example.com/a/seg0.ts
#EXTINF:10.0,
https://cdn.example.com/a/seg1.ts
#EXTINF:10.0,
https://cdn.example.com/a/seg2.ts
#EXT-X-ENDLIST
`

	out, err := newConverter(src, Options{}).Convert(context.Background(), strings.NewReader(text))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if string(out) != "AAABBBCCC" {
		t.Errorf("Expected AAABBBCCC, got %q", out)
	}
}

func TestConvert_EncryptedSequenceTwo(t *testing.T) {
	key := make([]byte, 16)
	plain := []byte("0123456789ABCDEF")

	src := newFakeSource()
	src.content["https://cdn.example.com/keys/key.bin"] = key
	src.content["https://cdn.example.com/keys/seg2.ts"] = encryptSegment(t, plain, key, playlist.SequenceOf(2))

	text := `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:2
#EXT-X-KEY:METHOD=AES-128,URI="https://cdn.example.com/keys/key.bin"
#EXTINF:10.0,
seg2.ts
#EXT-X-ENDLIST
`

	out, err := newConverter(src, Options{}).Convert(context.Background(), strings.NewReader(text))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !bytes.Equal(out, plain) {
		t.Errorf("Expected %q, got %q", plain, out)
	}
}

func encryptedPlaylist(t *testing.T, src *fakeSource, start playlist.Sequence, n int) (string, []byte) {
	t.Helper()
	key := []byte("0123456789abcdef")
	src.content["https://cdn.example.com/live/key.bin"] = key

	var text strings.Builder
	var want []byte
	fmt.Fprintf(&text, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:%s\n", start)
	text.WriteString("#EXT-X-KEY:METHOD=AES-128,URI=\"https://cdn.example.com/live/key.bin\"\n")
	for i := 0; i < n; i++ {
		plain := bytes.Repeat([]byte{byte('a' + i)}, 32)
		name := fmt.Sprintf("seg%d.ts", i)
		seq, ok := start.Add(uint64(i))
		if !ok {
			t.Fatalf("sequence overflow at segment %d", i)
		}
		src.content["https://cdn.example.com/live/"+name] = encryptSegment(t, plain, key, seq)
		want = append(want, plain...)
		fmt.Fprintf(&text, "#EXTINF:10.0,\n%s\n", name)
	}
	text.WriteString("#EXT-X-ENDLIST\n")

	return text.String(), want
}

func TestConvert_KeyFetchedOnce(t *testing.T) {
	for _, concurrency := range []int{1, 3, 10} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			src := newFakeSource()
			text, want := encryptedPlaylist(t, src, playlist.SequenceOf(100), 10)

			out, err := newConverter(src, Options{Concurrency: concurrency}).Convert(context.Background(), strings.NewReader(text))
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if !bytes.Equal(out, want) {
				t.Errorf("Output does not match original plaintexts")
			}
			if n := src.count("https://cdn.example.com/live/key.bin"); n != 1 {
				t.Errorf("Expected key fetched once, got %d", n)
			}
		})
	}
}

func TestConvert_OrderPreservedUnderConcurrency(t *testing.T) {
	src := newFakeSource()
	text, want := encryptedPlaylist(t, src, playlist.Sequence{}, 8)

	// Early segments finish last.
	src.delay = func(location string) time.Duration {
		var i int
		if _, err := fmt.Sscanf(location, "https://cdn.example.com/live/seg%d.ts", &i); err != nil {
			return 0
		}
		return time.Duration(8-i) * 5 * time.Millisecond
	}

	out, err := newConverter(src, Options{Concurrency: 8}).Convert(context.Background(), strings.NewReader(text))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !bytes.Equal(out, want) {
		t.Errorf("Segments were assembled out of order")
	}
}

func TestConvert_MissingKey(t *testing.T) {
	src := newFakeSource()
	src.content["https://cdn.example.com/a/seg0.ts"] = make([]byte, 16)

	text := `#EXTM3U
#EXT-X-TARGETDURATION:10
#EXT-X-KEY:METHOD=AES-128
#EXTINF:10.0,
https://cdn.example.com/a/seg0.ts
#EXT-X-ENDLIST
`

	out, err := newConverter(src, Options{}).Convert(context.Background(), strings.NewReader(text))
	if !errors.Is(err, decrypt.ErrDecryption) {
		t.Fatalf("Expected ErrDecryption, got %v", err)
	}
	if out != nil {
		t.Errorf("Expected no output, got %d bytes", len(out))
	}
	if Kind(err) != KindDecryption {
		t.Errorf("Expected kind %q, got %q", KindDecryption, Kind(err))
	}
}

func TestConvert_KeyFetchFails(t *testing.T) {
	src := newFakeSource()
	src.content["https://cdn.example.com/a/seg0.ts"] = make([]byte, 16)

	text := `#EXTM3U
#EXT-X-TARGETDURATION:10
#EXT-X-KEY:METHOD=AES-128,URI="https://cdn.example.com/a/missing.key"
#EXTINF:10.0,
seg0.ts
#EXT-X-ENDLIST
`

	out, err := newConverter(src, Options{}).Convert(context.Background(), strings.NewReader(text))
	if !errors.Is(err, source.ErrRetrieval) {
		t.Fatalf("Expected ErrRetrieval, got %v", err)
	}
	if out != nil {
		t.Errorf("Expected no output, got %d bytes", len(out))
	}

	var segErr *SegmentError
	if !errors.As(err, &segErr) {
		t.Fatalf("Expected SegmentError, got %T", err)
	}
	if segErr.Index != 0 || segErr.Location != "https://cdn.example.com/a/missing.key" {
		t.Errorf("Unexpected segment context: %+v", segErr)
	}
}

func TestConvert_SegmentFetchFailsNoPartialOutput(t *testing.T) {
	src := newFakeSource()
	src.content["https://cdn.example.com/a/seg0.ts"] = []byte("AAA")
	src.content["https://cdn.example.com/a/seg2.ts"] = []byte("CCC")

	text := `#EXTM3U
#EXT-X-TARGETDURATION:10
#EXTINF:10.0,
https://cdn.example.com/a/seg0.ts
#EXTINF:10.0,
https://cdn.example.com/a/seg1.ts
#EXTINF:10.0,
https://cdn.example.com/a/seg2.ts
#EXT-X-ENDLIST
`

	out, err := newConverter(src, Options{Concurrency: 2}).Convert(context.Background(), strings.NewReader(text))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if out != nil {
		t.Errorf("Expected no output, got %q", out)
	}

	var segErr *SegmentError
	if !errors.As(err, &segErr) || segErr.Index != 1 {
		t.Errorf("Expected error for segment 1, got %v", err)
	}
	if Kind(err) != KindRetrieval {
		t.Errorf("Expected kind %q, got %q", KindRetrieval, Kind(err))
	}
}

func TestConvert_NoBaseLocation(t *testing.T) {
	text := `#EXTM3U
#EXT-X-TARGETDURATION:10
#EXTINF:10.0,
seg0.ts
#EXT-X-ENDLIST
`

	src := newFakeSource()
	out, err := newConverter(src, Options{}).Convert(context.Background(), strings.NewReader(text))
	if !errors.Is(err, ErrNoBaseLocation) {
		t.Fatalf("Expected ErrNoBaseLocation, got %v", err)
	}
	if out != nil {
		t.Errorf("Expected no output")
	}
	if !strings.Contains(err.Error(), "host location not set") {
		t.Errorf("Expected message to mention host location, got %q", err.Error())
	}
	if Kind(err) != KindConfig {
		t.Errorf("Expected kind %q, got %q", KindConfig, Kind(err))
	}
	if len(src.calls) != 0 {
		t.Errorf("Expected no fetches before failing, got %v", src.calls)
	}
}

func TestConvert_SequenceCarriesPast64Bits(t *testing.T) {
	src := newFakeSource()
	text, want := encryptedPlaylist(t, src, playlist.SequenceOf(math.MaxUint64), 3)

	out, err := newConverter(src, Options{Concurrency: 2}).Convert(context.Background(), strings.NewReader(text))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !bytes.Equal(out, want) {
		t.Errorf("Output mismatch across the 2^64 boundary")
	}
}

func TestConvert_KeyDerivedWorkingDirectoryBase(t *testing.T) {
	tests := []struct {
		name    string
		keyURI  string
		segment string
	}{
		{"bare key name", "key.bin", "seg0.ts"},
		{"relative key dir", "keys/key.bin", "keys/seg0.ts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := []byte("0123456789abcdef")
			plain := []byte("0123456789ABCDEF")

			src := newFakeSource()
			src.content[tt.keyURI] = key
			src.content[tt.segment] = encryptSegment(t, plain, key, playlist.SequenceOf(0))

			text := "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXT-X-KEY:METHOD=AES-128,URI=\"" + tt.keyURI + "\"\n#EXTINF:10.0,\nseg0.ts\n#EXT-X-ENDLIST\n"

			out, err := newConverter(src, Options{}).Convert(context.Background(), strings.NewReader(text))
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if !bytes.Equal(out, plain) {
				t.Errorf("Expected %q, got %q", plain, out)
			}
			if src.count(tt.segment) != 1 || src.count(tt.keyURI) != 1 {
				t.Errorf("Unexpected fetches: %v", src.calls)
			}
		})
	}
}

func TestConvert_ExplicitBase(t *testing.T) {
	src := newFakeSource()
	src.content["https://mirror.example.com/audio/seg0.ts"] = []byte("XYZ")

	text := `#EXTM3U
#EXT-X-TARGETDURATION:10
#EXTINF:10.0,
seg0.ts
#EXT-X-ENDLIST
`

	out, err := newConverter(src, Options{BaseLocation: "https://mirror.example.com/audio"}).Convert(context.Background(), strings.NewReader(text))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if string(out) != "XYZ" {
		t.Errorf("Expected XYZ, got %q", out)
	}
}

func TestConvert_ParseError(t *testing.T) {
	_, err := newConverter(newFakeSource(), Options{}).Convert(context.Background(), strings.NewReader("not a playlist"))
	if !errors.Is(err, parser.ErrParse) {
		t.Fatalf("Expected ErrParse, got %v", err)
	}
	if Kind(err) != KindParse {
		t.Errorf("Expected kind %q, got %q", KindParse, Kind(err))
	}
}

func TestConvertPlaylist_SequenceOverflow(t *testing.T) {
	p := &playlist.Playlist{
		StartSequence: playlist.Sequence{Hi: math.MaxUint64, Lo: math.MaxUint64},
		Segments: []segment.Segment{
			{URI: "https://cdn.example.com/seg0.ts", Duration: 10},
			{URI: "https://cdn.example.com/seg1.ts", Duration: 10},
		},
	}

	_, err := newConverter(newFakeSource(), Options{}).ConvertPlaylist(context.Background(), p)
	if !errors.Is(err, playlist.ErrSequenceRange) {
		t.Fatalf("Expected ErrSequenceRange, got %v", err)
	}
	if Kind(err) != KindValue {
		t.Errorf("Expected kind %q, got %q", KindValue, Kind(err))
	}
}

func TestConvert_Cancelled(t *testing.T) {
	src := newFakeSource()
	text, _ := encryptedPlaylist(t, src, playlist.Sequence{}, 4)
	src.delay = func(string) time.Duration { return time.Hour }

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := newConverter(src, Options{Concurrency: 2}).Convert(ctx, strings.NewReader(text))
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("Expected ErrCancelled, got %v", err)
		}
		if Kind(err) != KindCancelled {
			t.Errorf("Expected kind %q, got %q", KindCancelled, Kind(err))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Conversion did not stop after cancellation")
	}
}

func TestConvert_Progress(t *testing.T) {
	src := newFakeSource()
	text, _ := encryptedPlaylist(t, src, playlist.Sequence{}, 5)

	var calls [][2]int
	opts := Options{
		Concurrency: 3,
		Progress: func(done, total int) {
			calls = append(calls, [2]int{done, total})
		},
	}

	if _, err := newConverter(src, opts).Convert(context.Background(), strings.NewReader(text)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(calls) != 5 {
		t.Fatalf("Expected 5 progress calls, got %d", len(calls))
	}
	for i, c := range calls {
		if c[0] != i+1 || c[1] != 5 {
			t.Errorf("Progress call %d = %v, want [%d 5]", i, c, i+1)
		}
	}
}

func TestConvertLocation_FallbackBase(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/audio/list.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXTINF:10.0,\nseg0.ts\n#EXTINF:10.0,\nparts/seg1.ts\n#EXT-X-ENDLIST\n")
	})
	mux.HandleFunc("/audio/seg0.ts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("first-"))
	})
	mux.HandleFunc("/audio/parts/seg1.ts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("second"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newConverter(source.NewHTTP(5*time.Second, nil), Options{Concurrency: 2})
	out, err := c.ConvertLocation(context.Background(), server.URL+"/audio/list.m3u8?token=abc")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if string(out) != "first-second" {
		t.Errorf("Expected first-second, got %q", out)
	}
}

func TestConvert_WithID(t *testing.T) {
	ctx := WithID(context.Background(), "abc-123")
	id, ok := IDFromContext(ctx)
	if !ok || id != "abc-123" {
		t.Errorf("Expected abc-123, got %q (ok=%v)", id, ok)
	}
	if _, ok := IDFromContext(context.Background()); ok {
		t.Error("Expected no ID on a bare context")
	}
}
