package disperser

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/dispersal/internal/accountant"
	"github.com/eigerco/dispersal/internal/auth"
	"github.com/eigerco/dispersal/internal/core"
	"github.com/eigerco/dispersal/internal/paymentstate"
	"github.com/eigerco/dispersal/pkg/network/cert"
	"github.com/eigerco/dispersal/pkg/network/protocol"
	"github.com/eigerco/dispersal/pkg/network/rpc"
	"github.com/eigerco/dispersal/pkg/network/transport"
)

// fakeDisperser is an in-memory disperser backend.
type fakeDisperser struct {
	mu       sync.Mutex
	state    *paymentstate.PaymentState
	quorums  *paymentstate.QuorumPaymentState
	statuses map[core.BlobKey]core.BlobStatus
	payments [][]byte
}

func (f *fakeDisperser) GetPaymentState(context.Context, common.Address) (*paymentstate.PaymentState, error) {
	return f.state, nil
}

func (f *fakeDisperser) GetPaymentStateForAllQuorums(context.Context, common.Address) (*paymentstate.QuorumPaymentState, error) {
	return f.quorums, nil
}

func (f *fakeDisperser) GetBlobCommitment(_ context.Context, data []byte) (core.BlobCommitments, error) {
	return core.BlobCommitments{
		Commitment:       []byte{0xc0, byte(len(data))},
		LengthCommitment: []byte{0x01},
		LengthProof:      []byte{0x02},
		Length:           uint32(len(data)),
	}, nil
}

func (f *fakeDisperser) DisperseBlob(_ context.Context, req DisperseRequest) (DisperseReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := req.Header.BlobKey()
	f.statuses[key] = core.BlobStatusQueued
	f.payments = append(f.payments, req.Header.PaymentMetadata.CumulativePayment)
	return DisperseReply{Status: core.BlobStatusQueued, BlobKey: key}, nil
}

func (f *fakeDisperser) GetBlobStatus(_ context.Context, key core.BlobKey) (core.BlobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[key], nil
}

func (f *fakeDisperser) recordedPayments() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payments...)
}

func startServer(t *testing.T, backend RPC) string {
	t.Helper()
	manager, err := protocol.NewManager(protocol.Config{})
	require.NoError(t, err)
	Serve(rpc.NewServer(manager.Registry), backend)

	tlsCert, err := cert.NewEphemeral(time.Hour)
	require.NoError(t, err)
	tr, err := transport.NewTransport(transport.Config{
		TLSCert:       tlsCert,
		ListenAddr:    "127.0.0.1:0",
		CertValidator: cert.NewValidator(),
		Handler:       manager,
	})
	require.NoError(t, err)
	require.NoError(t, tr.Start())
	t.Cleanup(func() { _ = tr.Stop() })
	return tr.Addr().String()
}

func dial(t *testing.T, addr string, signer Signer) *QUICClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := DialQUIC(ctx, QUICConfig{Address: addr, Timeout: 5 * time.Second}, signer)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestQUICPaymentState(t *testing.T) {
	now := uint64(time.Now().Unix())
	backend := &fakeDisperser{
		state: &paymentstate.PaymentState{
			Reservation: &core.ReservedPayment{
				SymbolsPerSecond: 100,
				StartTimestamp:   now - 10,
				EndTimestamp:     now + 10,
				QuorumNumbers:    []core.QuorumID{0, 1},
				QuorumSplits:     []byte{50, 50},
			},
			CumulativePayment:        uint256.NewInt(12345),
			OnchainCumulativePayment: uint256.NewInt(1_000_000),
			GlobalParams:             &paymentstate.GlobalParams{MinNumSymbols: 4096, PricePerSymbol: 447_000_000, ReservationWindow: 300},
		},
		quorums: &paymentstate.QuorumPaymentState{
			Reservations: map[core.QuorumID]core.ReservedPayment{
				1: {SymbolsPerSecond: 5, StartTimestamp: now - 10, EndTimestamp: now + 10, QuorumNumbers: []core.QuorumID{1}},
				2: {},
			},
			ProtocolConfigs: map[core.QuorumID]core.PaymentQuorumProtocolConfig{1: {MinNumSymbols: 32, ReservationRateLimitWindow: 60}},
			PaymentConfigs:  map[core.QuorumID]core.PaymentQuorumConfig{1: {OnDemandPricePerSymbol: 7}},
			OnDemandQuorums: []core.QuorumID{1, 0},
		},
		statuses: map[core.BlobKey]core.BlobStatus{},
	}
	signer, err := auth.NewLocalSigner(testKey)
	require.NoError(t, err)
	client := dial(t, startServer(t, backend), signer)
	ctx := context.Background()

	state, err := client.GetPaymentState(ctx, signer.AccountID())
	require.NoError(t, err)
	assert.Equal(t, backend.state.Reservation, state.Reservation)
	assert.Equal(t, uint256.NewInt(12345), state.CumulativePayment)
	assert.Equal(t, uint256.NewInt(1_000_000), state.OnchainCumulativePayment)
	require.NotNil(t, state.GlobalParams)
	assert.Equal(t, uint64(300), state.GlobalParams.ReservationWindow)

	qs, err := client.GetPaymentStateForAllQuorums(ctx, signer.AccountID())
	require.NoError(t, err)
	assert.Len(t, qs.Reservations, 1, "zero-timestamp reservation is dropped")
	assert.Equal(t, uint64(5), qs.Reservations[1].SymbolsPerSecond)
	assert.Equal(t, uint64(60), qs.ProtocolConfigs[1].ReservationRateLimitWindow)
	assert.Equal(t, uint64(7), qs.PaymentConfigs[1].OnDemandPricePerSymbol)
	assert.Equal(t, []core.QuorumID{0, 1}, qs.OnDemandQuorums)
	assert.Nil(t, qs.CumulativePayment)

	// Asking for another account's state fails the signature check.
	_, err = client.GetPaymentState(ctx, common.HexToAddress("0x01"))
	require.ErrorIs(t, err, rpc.ErrRemote)
	assert.Contains(t, err.Error(), ErrUnauthorized.Error())
	assert.True(t, IsRemote(err))
}

func TestQUICEndToEndDispersal(t *testing.T) {
	backend := &fakeDisperser{
		state: &paymentstate.PaymentState{
			Reservation:              &core.ReservedPayment{},
			CumulativePayment:        uint256.NewInt(100),
			OnchainCumulativePayment: uint256.NewInt(1_000_000_000_000_000_000),
		},
		statuses: map[core.BlobKey]core.BlobStatus{},
	}
	signer, err := auth.NewLocalSigner(testKey)
	require.NoError(t, err)
	quicClient := dial(t, startServer(t, backend), signer)

	session, err := paymentstate.NewSession(signer.AccountID(), accountant.DefaultPaymentConfig())
	require.NoError(t, err)
	client, err := NewClient(Config{}, quicClient, signer, session)
	require.NoError(t, err)

	ctx := context.Background()
	status, key, err := client.DisperseBlob(ctx, []byte("end to end"), 0, []core.QuorumID{0, 1})
	require.NoError(t, err)
	assert.Equal(t, core.BlobStatusQueued, status)
	assert.Equal(t, paymentstate.ModeOnDemand, session.Mode())

	want := new(uint256.Int).Add(uint256.NewInt(100), onDemandCharge)
	payments := backend.recordedPayments()
	require.Len(t, payments, 1)
	assert.Equal(t, want.Bytes(), payments[0])

	got, err := client.GetBlobStatus(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, core.BlobStatusQueued, got)
}
