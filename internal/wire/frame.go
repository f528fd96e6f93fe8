package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"

	"github.com/BasicAcid/locnet/internal/xerrors"
)

// ProtocolMarker is the single fixed byte spec.md §4.C prefixes every
// frame with.
const ProtocolMarker byte = 0x01

// MaxBodyLen is the largest body a frame may carry; larger declared
// lengths are a protocol error and terminate the session.
const MaxBodyLen = 1 << 20 // 1 MiB

// WriteFrame writes the 5-byte header (marker + little-endian uint32
// length) followed by body.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxBodyLen {
		return xerrors.Protocol.New("body length %d exceeds max %d", len(body), MaxBodyLen)
	}
	header := make([]byte, 5)
	header[0] = ProtocolMarker
	binary.LittleEndian.PutUint32(header[1:], uint32(len(body)))

	if _, err := w.Write(header); err != nil {
		return xerrors.Transport.Wrap(err)
	}
	if _, err := w.Write(body); err != nil {
		return xerrors.Transport.Wrap(err)
	}
	return nil
}

// ReadFrame reads one frame and returns its body. A bad marker or an
// over-limit declared length is a Protocol error; any I/O failure is a
// Transport error.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, xerrors.Transport.Wrap(err)
	}
	if header[0] != ProtocolMarker {
		return nil, xerrors.Protocol.New("bad protocol marker 0x%02x", header[0])
	}
	length := binary.LittleEndian.Uint32(header[1:])
	if length > MaxBodyLen {
		return nil, xerrors.Protocol.New("declared body length %d exceeds max %d", length, MaxBodyLen)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, xerrors.Transport.Wrap(err)
	}
	return body, nil
}

// EncodeMessage serializes a Message body with encoding/gob, following
// the precedent of the pack's Iris overlay protocol (proto/overlay),
// which gob-encodes its own header/state structs over the wire.
func EncodeMessage(msg *Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, xerrors.Internal.Wrap(err)
	}
	return buf.Bytes(), nil
}

// DecodeMessage deserializes a Message body.
func DecodeMessage(body []byte) (*Message, error) {
	var msg Message
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&msg); err != nil {
		return nil, xerrors.Protocol.Wrap(err)
	}
	return &msg, nil
}

// WriteMessage frames and writes a full Message.
func WriteMessage(w io.Writer, msg *Message) error {
	body, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	return WriteFrame(w, body)
}

// ReadMessage reads, decodes, and version-checks one full Message.
func ReadMessage(r io.Reader) (*Message, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	msg, err := DecodeMessage(body)
	if err != nil {
		return nil, err
	}
	if err := ValidateVersion(msg.Version); err != nil {
		return nil, err
	}
	return msg, nil
}
