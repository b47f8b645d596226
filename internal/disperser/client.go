package disperser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eigerco/dispersal/internal/accountant"
	"github.com/eigerco/dispersal/internal/core"
	"github.com/eigerco/dispersal/internal/paymentstate"
	"github.com/eigerco/dispersal/internal/store"
	"github.com/eigerco/dispersal/pkg/log"
)

// DefaultPollInterval is used by WaitForStatus when no interval is given.
const DefaultPollInterval = 2 * time.Second

type Config struct {
	// UseAdvancedReservations selects per-quorum accounting.
	UseAdvancedReservations bool
}

type Option func(*Client)

// WithJournal records every accepted dispersal in j.
func WithJournal(j *store.Dispersals) Option {
	return func(c *Client) {
		c.journal = j
	}
}

func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithRequestIDs overrides request id generation.
func WithRequestIDs(next func() string) Option {
	return func(c *Client) {
		c.requestID = next
	}
}

// Client disperses blobs and pays for them through a payment session.
type Client struct {
	config    Config
	rpc       RPC
	signer    Signer
	session   *paymentstate.Session
	journal   *store.Dispersals
	clock     func() time.Time
	logger    zerolog.Logger
	requestID func() string
}

func NewClient(cfg Config, rpc RPC, signer Signer, session *paymentstate.Session, opts ...Option) (*Client, error) {
	if rpc == nil || signer == nil || session == nil {
		return nil, fmt.Errorf("disperser client requires rpc, signer and session")
	}
	if signer.AccountID() != session.AccountID() {
		return nil, fmt.Errorf("signer account %s does not match session account %s", signer.AccountID(), session.AccountID())
	}
	c := &Client{
		config:    cfg,
		rpc:       rpc,
		signer:    signer,
		session:   session,
		clock:     time.Now,
		logger:    log.Root,
		requestID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Session() *paymentstate.Session {
	return c.session
}

// Refresh re-reads the payment state from the disperser.
func (c *Client) Refresh(ctx context.Context) error {
	if c.config.UseAdvancedReservations {
		return c.session.RefreshAdvanced(ctx, c.rpc)
	}
	return c.session.RefreshSimple(ctx, c.rpc)
}

// ensureSession refreshes a session that has no payment method yet. A session in
// ModeNone asks again, since the account may have gained a deposit or a reservation.
// A throttled recheck keeps the current state.
func (c *Client) ensureSession(ctx context.Context) error {
	switch c.session.Mode() {
	case paymentstate.ModeUninitialized:
		return c.Refresh(ctx)
	case paymentstate.ModeNone:
		if err := c.Refresh(ctx); err != nil && !errors.Is(err, paymentstate.ErrRefreshThrottled) {
			return err
		}
	}
	return nil
}

// DisperseBlob pays for and submits data. If the disperser rejects a reservation
// payment the session switches to on-demand payment and the blob is sent once more.
func (c *Client) DisperseBlob(ctx context.Context, data []byte, version uint16, quorums []core.QuorumID) (core.BlobStatus, core.BlobKey, error) {
	if len(data) == 0 {
		return core.BlobStatusUnknown, core.BlobKey{}, ErrEmptyData
	}
	if len(quorums) == 0 {
		return core.BlobStatusUnknown, core.BlobKey{}, accountant.ErrNoQuorums
	}
	if err := c.ensureSession(ctx); err != nil {
		return core.BlobStatusUnknown, core.BlobKey{}, err
	}

	requestID := c.requestID()
	logger := c.logger.With().Str("request_id", requestID).Int("size", len(data)).Logger()

	reply, payment, err := c.attempt(ctx, logger, data, version, quorums)
	if err != nil && payment.Type == core.PaymentTypeReservation && strings.Contains(err.Error(), reservationRejected) {
		logger.Warn().Err(err).Msg("reservation rejected, retrying with on-demand payment")
		if ferr := c.session.ForceOnDemand(ctx, c.rpc); ferr != nil {
			return core.BlobStatusUnknown, core.BlobKey{}, errors.Join(err, ferr)
		}
		reply, payment, err = c.attempt(ctx, logger, data, version, quorums)
	}
	if err != nil {
		return core.BlobStatusUnknown, core.BlobKey{}, err
	}

	c.session.Commit(payment)
	logger.Info().
		Stringer("blob_key", reply.BlobKey).
		Stringer("status", reply.Status).
		Stringer("payment", payment.Type).
		Msg("blob dispersed")

	if c.journal != nil {
		c.record(logger, requestID, reply, payment, quorums, len(data))
	}
	return reply.Status, reply.BlobKey, nil
}

func (c *Client) attempt(ctx context.Context, logger zerolog.Logger, data []byte, version uint16, quorums []core.QuorumID) (DisperseReply, accountant.Payment, error) {
	commitments, err := c.rpc.GetBlobCommitment(ctx, data)
	if err != nil {
		return DisperseReply{}, accountant.Payment{}, fmt.Errorf("get blob commitment: %w", err)
	}

	now := c.clock()
	payment, err := c.session.Payment(uint64(len(data)), quorums, now.UnixNano())
	if err != nil {
		return DisperseReply{}, accountant.Payment{}, fmt.Errorf("account blob: %w", err)
	}
	logger.Debug().Stringer("payment", payment.Type).Str("increment", payment.Increment.Dec()).Msg("blob accounted")

	header := core.BlobHeader{
		Version:       version,
		Commitments:   commitments,
		QuorumNumbers: quorums,
		PaymentMetadata: core.PaymentMetadata{
			AccountID:         c.signer.AccountID(),
			Timestamp:         now.UnixNano(),
			CumulativePayment: payment.Value,
		},
	}
	sig, err := c.signer.SignBlobRequest(header)
	if err != nil {
		return DisperseReply{}, payment, fmt.Errorf("sign blob request: %w", err)
	}

	reply, err := c.rpc.DisperseBlob(ctx, DisperseRequest{Data: data, Header: header, Signature: sig})
	if err != nil {
		return DisperseReply{}, payment, fmt.Errorf("disperse blob: %w", err)
	}
	if key := header.BlobKey(); reply.BlobKey != key {
		return DisperseReply{}, payment, fmt.Errorf("%w: got %s, want %s", ErrBlobKeyMismatch, reply.BlobKey, key)
	}
	return reply, payment, nil
}

func (c *Client) record(logger zerolog.Logger, requestID string, reply DisperseReply, payment accountant.Payment, quorums []core.QuorumID, size int) {
	rec := store.DispersalRecord{
		BlobKey:           reply.BlobKey,
		RequestID:         requestID,
		PaymentType:       payment.Type,
		CumulativePayment: payment.Value,
		Increment:         payment.Increment.Dec(),
		Quorums:           quorums,
		DataLength:        uint64(size),
		Timestamp:         c.clock().UTC(),
		Status:            reply.Status,
	}
	if err := c.journal.PutDispersal(rec); err != nil {
		logger.Warn().Err(err).Msg("journal write failed")
	}
}

// GetBlobStatus queries the disperser and updates the journal entry if there is one.
func (c *Client) GetBlobStatus(ctx context.Context, key core.BlobKey) (core.BlobStatus, error) {
	status, err := c.rpc.GetBlobStatus(ctx, key)
	if err != nil {
		return core.BlobStatusUnknown, fmt.Errorf("get blob status: %w", err)
	}
	if c.journal != nil {
		if err := c.journal.UpdateStatus(key, status); err != nil && !errors.Is(err, store.ErrDispersalNotFound) {
			c.logger.Warn().Err(err).Stringer("blob_key", key).Msg("journal update failed")
		}
	}
	return status, nil
}

// WaitForStatus polls until the blob reaches a terminal status or ctx ends.
func (c *Client) WaitForStatus(ctx context.Context, key core.BlobKey, interval time.Duration) (core.BlobStatus, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.GetBlobStatus(ctx, key)
		if err != nil {
			return status, err
		}
		if status.IsTerminal() {
			return status, nil
		}
		c.logger.Debug().Stringer("blob_key", key).Stringer("status", status).Msg("waiting for blob")

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

// PaymentInfo describes the current payment method, refreshing first if needed.
func (c *Client) PaymentInfo(ctx context.Context) (paymentstate.Info, error) {
	if err := c.ensureSession(ctx); err != nil {
		return paymentstate.Info{}, err
	}
	return c.session.Info(), nil
}
