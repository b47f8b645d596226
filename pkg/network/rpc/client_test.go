package rpc

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"testing"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/dispersal/pkg/network/protocol"
)

type echoRequest struct {
	Text string `json:"text"`
}

type echoResponse struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

type fakeOpener struct {
	stream *bufferStream
	kind   protocol.StreamKind
	err    error
}

func (f *fakeOpener) OpenStream(_ context.Context, kind protocol.StreamKind) (quic.Stream, error) {
	f.kind = kind
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

func responseFrame(t *testing.T, env envelope) []byte {
	t.Helper()
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	s := newBufferStream(nil)
	require.NoError(t, WriteMessage(context.Background(), s.Out, raw))
	return s.Out.Bytes()
}

func TestClientCall(t *testing.T) {
	body, err := json.Marshal(echoResponse{Text: "hi", Count: 2})
	require.NoError(t, err)
	stream := newBufferStream(responseFrame(t, envelope{OK: body}))
	opener := &fakeOpener{stream: stream}

	var resp echoResponse
	err = NewClient(opener).Call(context.Background(), protocol.StreamKindGetBlobStatus, echoRequest{Text: "hi"}, &resp)
	require.NoError(t, err)

	assert.Equal(t, protocol.StreamKindGetBlobStatus, opener.kind)
	assert.Equal(t, echoResponse{Text: "hi", Count: 2}, resp)
	assert.True(t, stream.CloseCalled)
	assert.False(t, stream.Deadline.IsZero())

	sent, err := ReadMessage(context.Background(), stream.Out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hi"}`, string(sent))
}

func TestClientCallRemoteError(t *testing.T) {
	stream := newBufferStream(responseFrame(t, envelope{Error: "not a valid active reservation"}))

	err := NewClient(&fakeOpener{stream: stream}).Call(context.Background(), protocol.StreamKindDisperseBlob, echoRequest{}, nil)
	require.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "not a valid active reservation")
}

func TestClientCallEmptyEnvelope(t *testing.T) {
	stream := newBufferStream(responseFrame(t, envelope{}))

	err := NewClient(&fakeOpener{stream: stream}).Call(context.Background(), protocol.StreamKindDisperseBlob, echoRequest{}, nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestClientCallOpenFailure(t *testing.T) {
	boom := errors.New("boom")
	err := NewClient(&fakeOpener{err: boom}).Call(context.Background(), protocol.StreamKindDisperseBlob, echoRequest{}, nil)
	assert.ErrorIs(t, err, boom)
}

func TestHandlerFuncHandleStream(t *testing.T) {
	h := Handle(func(_ context.Context, req echoRequest) (echoResponse, error) {
		if req.Text == "" {
			return echoResponse{}, errors.New("empty text")
		}
		return echoResponse{Text: req.Text, Count: len(req.Text)}, nil
	})

	t.Run("success", func(t *testing.T) {
		in := newBufferStream(nil)
		require.NoError(t, WriteMessage(context.Background(), in.In, []byte(`{"text":"abc"}`)))

		require.NoError(t, h.HandleStream(context.Background(), in, ed25519.PublicKey{}))
		assert.True(t, in.CloseCalled)

		raw, err := ReadMessage(context.Background(), in.Out)
		require.NoError(t, err)
		var resp echoResponse
		require.NoError(t, decodeEnvelope(raw, &resp))
		assert.Equal(t, echoResponse{Text: "abc", Count: 3}, resp)
	})

	t.Run("handler error", func(t *testing.T) {
		in := newBufferStream(nil)
		require.NoError(t, WriteMessage(context.Background(), in.In, []byte(`{"text":""}`)))

		require.NoError(t, h.HandleStream(context.Background(), in, nil))

		raw, err := ReadMessage(context.Background(), in.Out)
		require.NoError(t, err)
		err = decodeEnvelope(raw, nil)
		require.ErrorIs(t, err, ErrRemote)
		assert.Contains(t, err.Error(), "empty text")
	})

	t.Run("bad request", func(t *testing.T) {
		in := newBufferStream(nil)
		require.NoError(t, WriteMessage(context.Background(), in.In, []byte(`not json`)))

		require.NoError(t, h.HandleStream(context.Background(), in, nil))

		raw, err := ReadMessage(context.Background(), in.Out)
		require.NoError(t, err)
		assert.ErrorIs(t, decodeEnvelope(raw, nil), ErrRemote)
	})

	t.Run("truncated request", func(t *testing.T) {
		in := newBufferStream([]byte{9, 0})
		assert.Error(t, h.HandleStream(context.Background(), in, nil))
		assert.True(t, in.CanceledWrite)
	})
}
