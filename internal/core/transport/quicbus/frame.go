package quicbus

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tickforge/ecsengine/internal/core/ecserr"
	"github.com/tickforge/ecsengine/internal/core/wire"
	"github.com/tickforge/ecsengine/internal/core/wire/codec"
)

// control message kinds exchanged on a client's control stream.
type frameKind uint8

const (
	kindPublish frameKind = iota
	kindSubscribe
	kindQueueSubscribe
	kindUnsubscribe
)

type controlFrame struct {
	Kind    frameKind `cbor:"kind"`
	Subject string    `cbor:"subject,omitempty"`
	Group   string    `cbor:"group,omitempty"`
	Durable bool      `cbor:"durable,omitempty"`
	Env     *wire.Envelope `cbor:"env,omitempty"`
}

// writeFrame length-prefixes a CBOR-encoded controlFrame onto w, mirroring
// the length-prefixed framing the teacher's protocol/message.go pool uses
// on top of raw QUIC streams.
func writeFrame(w io.Writer, f controlFrame) error {
	b, err := codec.Encode(f)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("%w: %v", ecserr.ErrTransport, err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("%w: %v", ecserr.ErrTransport, err)
	}
	return nil
}

const maxFrameSize = 64 * 1024 * 1024

func readFrame(r io.Reader) (controlFrame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return controlFrame{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return controlFrame{}, fmt.Errorf("%w: frame of %d bytes exceeds limit", ecserr.ErrTransport, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return controlFrame{}, fmt.Errorf("%w: %v", ecserr.ErrTransport, err)
	}
	var f controlFrame
	if err := codec.Decode(buf, &f); err != nil {
		return controlFrame{}, err
	}
	return f, nil
}
