package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameSize bounds a single frame to defend against a misbehaving peer
// sending a bogus length prefix and exhausting memory.
const MaxFrameSize = 64 << 20 // 64 MiB

// ErrPeerGone is returned by ReadFrame when the connection was closed
// cleanly before any bytes of a new frame arrived. A zero-length read is
// not an error - callers should treat it as "peer went away" and stop
// looping.
var ErrPeerGone = errors.New("wire: peer closed connection")

// WriteFrame writes a 4-byte big-endian length prefix followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("wire: frame too large: %d bytes", len(payload))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame. It returns ErrPeerGone if the
// connection was closed before a single byte of the header was read.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, ErrPeerGone
		}
		return nil, fmt.Errorf("wire: read frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame declares %d bytes, exceeds max %d", n, MaxFrameSize)
	}
	if n == 0 {
		return nil, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read frame payload: %w", err)
	}
	return payload, nil
}

// WriteRequest CBOR-encodes and frames a Request.
func WriteRequest(w io.Writer, req Request) error {
	data, err := cbor.Marshal(req)
	if err != nil {
		return fmt.Errorf("wire: marshal request: %w", err)
	}
	return WriteFrame(w, data)
}

// ReadRequest reads and decodes one framed Request.
func ReadRequest(r io.Reader) (Request, error) {
	var req Request
	payload, err := ReadFrame(r)
	if err != nil {
		return req, err
	}
	if err := cbor.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("wire: unmarshal request: %w", err)
	}
	return req, nil
}

// WriteResponse CBOR-encodes and frames a Response.
func WriteResponse(w io.Writer, resp Response) error {
	data, err := cbor.Marshal(resp)
	if err != nil {
		return fmt.Errorf("wire: marshal response: %w", err)
	}
	return WriteFrame(w, data)
}

// ReadResponse reads and decodes one framed Response.
func ReadResponse(r io.Reader) (Response, error) {
	var resp Response
	payload, err := ReadFrame(r)
	if err != nil {
		return resp, err
	}
	if err := cbor.Unmarshal(payload, &resp); err != nil {
		return resp, fmt.Errorf("wire: unmarshal response: %w", err)
	}
	return resp, nil
}
