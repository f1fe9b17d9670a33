package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadMessage reads a single length-prefixed message from a reader.
// Frame format: [4-byte LE length][payload bytes...]
// Returns the raw payload (excluding length prefix).
func ReadMessage(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, fmt.Errorf("failed to read message length: %w", err)
	}

	if length == 0 {
		return nil, fmt.Errorf("received zero-length message")
	}

	if length > MaxMessageSize {
		return nil, fmt.Errorf("message too large: %d bytes (max %d)", length, MaxMessageSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read message payload (%d bytes): %w", length, err)
	}

	return payload, nil
}

// Frame returns data with its 4-byte LE length prefix prepended.
func Frame(data []byte) []byte {
	framed := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(framed[:4], uint32(len(data)))
	copy(framed[4:], data)
	return framed
}

// WriteMessage writes a length-prefixed message to a writer.
func WriteMessage(w io.Writer, data []byte) error {
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write message length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write message payload: %w", err)
	}
	return nil
}
