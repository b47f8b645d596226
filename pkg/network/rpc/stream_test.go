package rpc

import (
	"bytes"
	"context"
	"time"

	"github.com/quic-go/quic-go"
)

// bufferStream is an in-memory quic.Stream: reads drain In, writes append to Out.
type bufferStream struct {
	In            *bytes.Buffer
	Out           *bytes.Buffer
	CloseCalled   bool
	CanceledRead  bool
	CanceledWrite bool
	Deadline      time.Time
}

func newBufferStream(in []byte) *bufferStream {
	return &bufferStream{In: bytes.NewBuffer(in), Out: new(bytes.Buffer)}
}

func (s *bufferStream) StreamID() quic.StreamID            { return 4 }
func (s *bufferStream) Read(p []byte) (int, error)         { return s.In.Read(p) }
func (s *bufferStream) Write(p []byte) (int, error)        { return s.Out.Write(p) }
func (s *bufferStream) Close() error                       { s.CloseCalled = true; return nil }
func (s *bufferStream) CancelRead(quic.StreamErrorCode)    { s.CanceledRead = true }
func (s *bufferStream) CancelWrite(quic.StreamErrorCode)   { s.CanceledWrite = true }
func (s *bufferStream) Context() context.Context           { return context.Background() }
func (s *bufferStream) SetDeadline(t time.Time) error      { s.Deadline = t; return nil }
func (s *bufferStream) SetReadDeadline(t time.Time) error  { return nil }
func (s *bufferStream) SetWriteDeadline(t time.Time) error { return nil }
