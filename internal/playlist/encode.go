package playlist

import (
	"fmt"
	"strings"

	"github.com/agleyzer/hlsaudio/internal/segment"
)

// Encode renders the playlist as an HLS VOD media playlist.
// An #EXT-X-KEY tag is written whenever the method or key URI changes between segments.
func (p *Playlist) Encode() string {
	var b strings.Builder

	targetDuration := p.TargetDuration
	if targetDuration == 0 {
		maxDuration := 0.0
		for _, seg := range p.Segments {
			if seg.Duration > maxDuration {
				maxDuration = seg.Duration
			}
		}
		targetDuration = int(maxDuration) + 1
	}

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", targetDuration))
	b.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%s\n", p.StartSequence))

	method, keyURI := segment.MethodNone, ""
	for _, seg := range p.Segments {
		if seg.Method != method || seg.KeyURI != keyURI {
			if seg.Method == segment.MethodNone {
				b.WriteString("#EXT-X-KEY:METHOD=NONE\n")
			} else {
				b.WriteString(fmt.Sprintf("#EXT-X-KEY:METHOD=%s,URI=%q\n", seg.Method, seg.KeyURI))
			}
			method, keyURI = seg.Method, seg.KeyURI
		}

		b.WriteString(fmt.Sprintf("#EXTINF:%.3f,\n", seg.Duration))
		b.WriteString(seg.URI)
		b.WriteString("\n")
	}

	b.WriteString("#EXT-X-ENDLIST\n")

	return b.String()
}
