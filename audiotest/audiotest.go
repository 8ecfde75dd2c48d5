// Package audiotest builds tiny MPEG audio files for tests.
package audiotest

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/bogem/id3v2/v2"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/tunedl/must"
)

// MPEG-1 Layer III, 128 kbps, 44.1 kHz, no padding.
var frameHeader = []byte{0xFF, 0xFB, 0x90, 0x64}

const frameSize = 417

// Frames returns n back-to-back silent MPEG frames.
func Frames(n int) []byte {
	out := make([]byte, 0, n*frameSize)
	for range n {
		frame := make([]byte, frameSize)
		copy(frame, frameHeader)
		out = append(out, frame...)
	}

	return out
}

// WriteUntagged writes an MP3 without any ID3 tag to dir/name and returns its path.
func WriteUntagged(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, Frames(8), 0o0600))

	return path
}

// Tagged returns an MP3 carrying an ID3v2.4 tag with a single encoder frame,
// which is what a fresh ffmpeg transcode looks like.
func Tagged() []byte {
	tag := id3v2.NewEmptyTag()
	tag.SetVersion(4)
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.AddTextFrame("TSSE", id3v2.EncodingUTF8, "Lavf61.7.100")

	var buf bytes.Buffer
	_, err := tag.WriteTo(&buf)
	must.NilErr(err)
	buf.Write(Frames(8))

	return buf.Bytes()
}

// WriteTagged writes Tagged to dir/name and returns its path.
func WriteTagged(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, Tagged(), 0o0600))

	return path
}
