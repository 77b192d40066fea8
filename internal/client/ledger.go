// Package client talks to a ledger server: connect clients for the ledger
// and relayer services and a fasthttp client for the content store.
package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"score-ledger/internal/constants"
	"score-ledger/internal/domain"
	"score-ledger/internal/rpc"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type LedgerClient struct {
	submit     *connect.Client[domain.SubmitTx, rpc.TxResponse]
	claimBadge *connect.Client[domain.ClaimBadgeTx, rpc.TxResponse]
	receipt    *connect.Client[rpc.ReceiptRequest, domain.Receipt]
	totalOf    *connect.Client[rpc.AddressRequest, rpc.HandleResponse]
	scoreOf    *connect.Client[rpc.SubmissionRequest, rpc.HandleResponse]
	statsOf    *connect.Client[rpc.AddressRequest, domain.PublicStats]
	isClaimed  *connect.Client[rpc.IsClaimedRequest, rpc.IsClaimedResponse]
	claims     *connect.Client[rpc.AddressRequest, rpc.ClaimsResponse]
	events     *connect.Client[rpc.EventsRequest, rpc.EventsResponse]
	now        *connect.Client[emptypb.Empty, timestamppb.Timestamp]
	count      *connect.Client[emptypb.Empty, wrapperspb.UInt64Value]
	info       *connect.Client[emptypb.Empty, rpc.LedgerInfoResponse]

	pollInterval time.Duration
	logger       zerolog.Logger
}

func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: constants.RequestTimeout}
}

func NewLedgerClient(httpClient connect.HTTPClient, baseURL string, logger zerolog.Logger) *LedgerClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts := connect.WithCodec(rpc.Codec{})
	return &LedgerClient{
		submit:       connect.NewClient[domain.SubmitTx, rpc.TxResponse](httpClient, baseURL+rpc.SubmitProcedure, opts),
		claimBadge:   connect.NewClient[domain.ClaimBadgeTx, rpc.TxResponse](httpClient, baseURL+rpc.ClaimBadgeProcedure, opts),
		receipt:      connect.NewClient[rpc.ReceiptRequest, domain.Receipt](httpClient, baseURL+rpc.ReceiptProcedure, opts),
		totalOf:      connect.NewClient[rpc.AddressRequest, rpc.HandleResponse](httpClient, baseURL+rpc.TotalOfProcedure, opts),
		scoreOf:      connect.NewClient[rpc.SubmissionRequest, rpc.HandleResponse](httpClient, baseURL+rpc.ScoreOfProcedure, opts),
		statsOf:      connect.NewClient[rpc.AddressRequest, domain.PublicStats](httpClient, baseURL+rpc.StatsOfProcedure, opts),
		isClaimed:    connect.NewClient[rpc.IsClaimedRequest, rpc.IsClaimedResponse](httpClient, baseURL+rpc.IsClaimedProcedure, opts),
		claims:       connect.NewClient[rpc.AddressRequest, rpc.ClaimsResponse](httpClient, baseURL+rpc.ClaimsProcedure, opts),
		events:       connect.NewClient[rpc.EventsRequest, rpc.EventsResponse](httpClient, baseURL+rpc.EventsProcedure, opts),
		now:          connect.NewClient[emptypb.Empty, timestamppb.Timestamp](httpClient, baseURL+rpc.NowProcedure, opts),
		count:        connect.NewClient[emptypb.Empty, wrapperspb.UInt64Value](httpClient, baseURL+rpc.SubmissionCountProcedure, opts),
		info:         connect.NewClient[emptypb.Empty, rpc.LedgerInfoResponse](httpClient, baseURL+rpc.LedgerInfoProcedure, opts),
		pollInterval: constants.ReceiptPollInterval,
		logger:       logger.With().Str("component", "ledger_client").Logger(),
	}
}

func (c *LedgerClient) Submit(ctx context.Context, tx *domain.SubmitTx) (domain.Hash, error) {
	resp, err := c.submit.CallUnary(ctx, connect.NewRequest(tx))
	if err != nil {
		return domain.Hash{}, rpc.FromConnectError(err)
	}
	return resp.Msg.TxID, nil
}

func (c *LedgerClient) ClaimBadge(ctx context.Context, tx *domain.ClaimBadgeTx) (domain.Hash, error) {
	resp, err := c.claimBadge.CallUnary(ctx, connect.NewRequest(tx))
	if err != nil {
		return domain.Hash{}, rpc.FromConnectError(err)
	}
	return resp.Msg.TxID, nil
}

func (c *LedgerClient) Receipt(ctx context.Context, txID domain.Hash) (*domain.Receipt, error) {
	resp, err := c.receipt.CallUnary(ctx, connect.NewRequest(&rpc.ReceiptRequest{TxID: txID}))
	if err != nil {
		return nil, rpc.FromConnectError(err)
	}
	return resp.Msg, nil
}

// WaitReceipt polls for the transaction receipt until it exists or ctx ends.
func (c *LedgerClient) WaitReceipt(ctx context.Context, txID domain.Hash) (*domain.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.Receipt(ctx, txID)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		c.logger.Debug().Str("tx_id", txID.String()).Msg("receipt not available yet")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *LedgerClient) TotalOf(ctx context.Context, owner domain.Address) (domain.Handle, error) {
	resp, err := c.totalOf.CallUnary(ctx, connect.NewRequest(&rpc.AddressRequest{Address: owner}))
	if err != nil {
		return domain.Handle{}, rpc.FromConnectError(err)
	}
	return resp.Msg.Handle, nil
}

func (c *LedgerClient) ScoreOf(ctx context.Context, id uint64) (domain.Handle, error) {
	resp, err := c.scoreOf.CallUnary(ctx, connect.NewRequest(&rpc.SubmissionRequest{ID: id}))
	if err != nil {
		return domain.Handle{}, rpc.FromConnectError(err)
	}
	return resp.Msg.Handle, nil
}

func (c *LedgerClient) StatsOf(ctx context.Context, owner domain.Address) (domain.PublicStats, error) {
	resp, err := c.statsOf.CallUnary(ctx, connect.NewRequest(&rpc.AddressRequest{Address: owner}))
	if err != nil {
		return domain.PublicStats{}, rpc.FromConnectError(err)
	}
	return *resp.Msg, nil
}

func (c *LedgerClient) IsClaimed(ctx context.Context, badgeID uint64, owner domain.Address) (bool, error) {
	resp, err := c.isClaimed.CallUnary(ctx, connect.NewRequest(&rpc.IsClaimedRequest{BadgeID: badgeID, Address: owner}))
	if err != nil {
		return false, rpc.FromConnectError(err)
	}
	return resp.Msg.Claimed, nil
}

func (c *LedgerClient) Claims(ctx context.Context, owner domain.Address) ([]domain.BadgeClaim, error) {
	resp, err := c.claims.CallUnary(ctx, connect.NewRequest(&rpc.AddressRequest{Address: owner}))
	if err != nil {
		return nil, rpc.FromConnectError(err)
	}
	return resp.Msg.Claims, nil
}

func (c *LedgerClient) Events(ctx context.Context, afterSeq uint64, limit int) ([]domain.Event, error) {
	resp, err := c.events.CallUnary(ctx, connect.NewRequest(&rpc.EventsRequest{AfterSeq: afterSeq, Limit: limit}))
	if err != nil {
		return nil, rpc.FromConnectError(err)
	}
	return resp.Msg.Events, nil
}

func (c *LedgerClient) Now(ctx context.Context) (time.Time, error) {
	resp, err := c.now.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return time.Time{}, rpc.FromConnectError(err)
	}
	return resp.Msg.AsTime(), nil
}

func (c *LedgerClient) SubmissionCount(ctx context.Context) (uint64, error) {
	resp, err := c.count.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return 0, rpc.FromConnectError(err)
	}
	return resp.Msg.GetValue(), nil
}

func (c *LedgerClient) Info(ctx context.Context) (*rpc.LedgerInfoResponse, error) {
	resp, err := c.info.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, rpc.FromConnectError(err)
	}
	return resp.Msg, nil
}
