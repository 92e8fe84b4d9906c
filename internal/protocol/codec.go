package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxInboundSize bounds a single inbound frame. Browsers never send more than 64 MiB
// in one native message, so a larger length prefix means the stream is corrupt.
const MaxInboundSize = 64 << 20

var (
	// ErrTruncated is returned when the stream ends inside a frame body.
	ErrTruncated = errors.New("truncated frame")
	// ErrFrameTooLarge is returned for length prefixes above MaxInboundSize.
	ErrFrameTooLarge = errors.New("frame too large")
)

// Reader decodes length-prefixed JSON frames: a uint32 in native byte order
// followed by exactly that many bytes of UTF-8 JSON.
type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadMessage blocks until a whole frame has been read. It returns io.EOF when the
// stream ends before or inside a length prefix, and ErrTruncated when it ends
// inside a body.
func (r *Reader) ReadMessage() (Envelope, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r.r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Envelope{}, io.EOF
		}
		return Envelope{}, fmt.Errorf("read length prefix: %w", err)
	}

	length := binary.NativeEndian.Uint32(prefix[:])
	if length > MaxInboundSize {
		return Envelope{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	body := make([]byte, length)
	n, err := io.ReadFull(r.r, body)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Envelope{}, fmt.Errorf("%w: expected %d bytes, but got %d", ErrTruncated, length, n)
		}
		return Envelope{}, fmt.Errorf("read frame body: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// Writer encodes frames. It is safe for concurrent use; every message is written
// and flushed as one unit.
type Writer struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteMessage serializes payload inside an envelope of the given type.
func (w *Writer) WriteMessage(msgType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	body, err := json.Marshal(Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	var prefix [4]byte
	binary.NativeEndian.PutUint32(prefix[:], uint32(len(body)))

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("flush frame: %w", err)
	}
	return nil
}

// TextUpdate sends the current content of a session.
func (w *Writer) TextUpdate(id json.RawMessage, text string) error {
	return w.WriteMessage(TypeTextUpdate, TextUpdate{ID: id, Text: text})
}

// DeathNotice tells the extension that a session is over.
func (w *Writer) DeathNotice(id json.RawMessage) error {
	return w.WriteMessage(TypeDeathNotice, DeathNotice{ID: id})
}

// Error reports a problem to the extension.
func (w *Writer) Error(msg string) error {
	return w.WriteMessage(TypeError, ErrorMessage{Error: msg})
}
