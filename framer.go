package jsonrpc2

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Wire framing follows the LSP base protocol: a block of "Key: Value" header
// lines terminated by a blank line, where Content-Length names the exact byte
// count of the JSON body that follows.
// https://microsoft.github.io/language-server-protocol/specifications/base/0.9/specification/
const (
	headerFormat     = "Content-Length: %d\r\n\r\n"
	headerTerminator = "\r\n\r\n"
	contentLength    = "content-length"
)

// Framer turns a growing byte stream into a sequence of decoded Messages.
// It keeps its parse state (expected body length, buffered bytes) between
// calls so headers and bodies may arrive split across any number of reads.
// A Framer is owned by a single connection's read loop and is not safe for
// concurrent use.
type Framer struct {
	codec Codec
	log   zerolog.Logger

	buf      []byte
	expected int // body length once a header has been parsed, -1 otherwise
}

func NewFramer(codec Codec, log zerolog.Logger) *Framer {
	if codec == nil {
		codec = DefaultCodec
	}
	return &Framer{
		codec:    codec,
		log:      log.With().Str("name", "framer").Logger(),
		expected: -1,
	}
}

// Feed appends p to the internal buffer and returns every complete message
// already buffered, in arrival order. A single call may return zero, one or
// many messages. Malformed headers and undecodable bodies are logged and
// skipped without desynchronizing the stream.
func (f *Framer) Feed(p []byte) []*Message {
	f.buf = append(f.buf, p...)
	var out []*Message
	for {
		if f.expected < 0 {
			i := bytes.Index(f.buf, []byte(headerTerminator))
			if i < 0 {
				// Wait for the rest of the header block.
				break
			}
			n, err := parseHeaderBlock(f.buf[:i])
			f.buf = f.buf[i+len(headerTerminator):]
			if err != nil {
				// Resynchronize by awaiting a fresh header.
				f.log.Warn().Err(err).Msg("discarding malformed header block")
				continue
			}
			f.expected = n
		}
		if len(f.buf) < f.expected {
			// Wait for the rest of the body.
			break
		}
		body := f.buf[:f.expected:f.expected]
		f.buf = f.buf[f.expected:]
		f.expected = -1
		m, err := f.codec.Decode(body)
		if err != nil {
			f.log.Warn().Err(err).Str("body", string(body)).Msg("discarding undecodable message body")
			continue
		}
		out = append(out, m)
	}
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return out
}

// parseHeaderBlock extracts the declared body length from a header block
// (terminator excluded). Unknown headers are ignored.
func parseHeaderBlock(block []byte) (int, error) {
	for _, line := range strings.Split(string(block), "\r\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(key), contentLength) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid content length %q", strings.TrimSpace(value))
		}
		return n, nil
	}
	return 0, fmt.Errorf("header block %q has no content length", string(block))
}

// appendFrame appends the framed form of body to dst.
func appendFrame(dst, body []byte) []byte {
	dst = append(dst, fmt.Sprintf(headerFormat, len(body))...)
	return append(dst, body...)
}
