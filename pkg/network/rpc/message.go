package rpc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxMessageSize bounds a single frame so a peer cannot force a huge allocation.
const MaxMessageSize = 64 << 20

var ErrMessageTooLarge = errors.New("message exceeds maximum size")

// WriteMessage writes content as a frame: a little-endian uint32 length
// followed by the bytes. The write is abandoned when ctx ends.
func WriteMessage(ctx context.Context, w io.Writer, content []byte) error {
	if len(content) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(content))
	}
	done := make(chan error, 1)
	go func() {
		var size [4]byte
		binary.LittleEndian.PutUint32(size[:], uint32(len(content)))
		if _, err := w.Write(size[:]); err != nil {
			done <- fmt.Errorf("failed to write message size: %w", err)
			return
		}
		if _, err := w.Write(content); err != nil {
			done <- fmt.Errorf("failed to write message content: %w", err)
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type readResult struct {
	content []byte
	err     error
}

// ReadMessage reads one frame written by WriteMessage.
func ReadMessage(ctx context.Context, r io.Reader) ([]byte, error) {
	done := make(chan readResult, 1)
	go func() {
		var size [4]byte
		if _, err := io.ReadFull(r, size[:]); err != nil {
			done <- readResult{err: fmt.Errorf("failed to read message size: %w", err)}
			return
		}
		n := binary.LittleEndian.Uint32(size[:])
		if n > MaxMessageSize {
			done <- readResult{err: fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n)}
			return
		}
		content := make([]byte, n)
		if _, err := io.ReadFull(r, content); err != nil {
			done <- readResult{err: fmt.Errorf("failed to read message content: %w", err)}
			return
		}
		done <- readResult{content: content}
	}()

	select {
	case res := <-done:
		return res.content, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
