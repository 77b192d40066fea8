package server

import (
	"context"
	"net/http"

	"score-ledger/internal/config"
	"score-ledger/internal/domain"
	"score-ledger/internal/ledger"
	"score-ledger/internal/rpc"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type LedgerServer struct {
	ledger  *ledger.Ledger
	chainID uint64
	logger  zerolog.Logger
}

func NewLedgerServer(l *ledger.Ledger, cfg *config.Config, logger zerolog.Logger) *LedgerServer {
	return &LedgerServer{ledger: l, chainID: cfg.ChainID, logger: logger}
}

// Handler mounts every ledger procedure under rpc.LedgerPath.
func (s *LedgerServer) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(rpc.SubmitProcedure, connect.NewUnaryHandler(rpc.SubmitProcedure, s.Submit, opts...))
	mux.Handle(rpc.ClaimBadgeProcedure, connect.NewUnaryHandler(rpc.ClaimBadgeProcedure, s.ClaimBadge, opts...))
	mux.Handle(rpc.ReceiptProcedure, connect.NewUnaryHandler(rpc.ReceiptProcedure, s.Receipt, opts...))
	mux.Handle(rpc.TotalOfProcedure, connect.NewUnaryHandler(rpc.TotalOfProcedure, s.TotalOf, opts...))
	mux.Handle(rpc.ScoreOfProcedure, connect.NewUnaryHandler(rpc.ScoreOfProcedure, s.ScoreOf, opts...))
	mux.Handle(rpc.StatsOfProcedure, connect.NewUnaryHandler(rpc.StatsOfProcedure, s.StatsOf, opts...))
	mux.Handle(rpc.IsClaimedProcedure, connect.NewUnaryHandler(rpc.IsClaimedProcedure, s.IsClaimed, opts...))
	mux.Handle(rpc.ClaimsProcedure, connect.NewUnaryHandler(rpc.ClaimsProcedure, s.Claims, opts...))
	mux.Handle(rpc.EventsProcedure, connect.NewUnaryHandler(rpc.EventsProcedure, s.Events, opts...))
	mux.Handle(rpc.NowProcedure, connect.NewUnaryHandler(rpc.NowProcedure, s.Now, opts...))
	mux.Handle(rpc.SubmissionCountProcedure, connect.NewUnaryHandler(rpc.SubmissionCountProcedure, s.SubmissionCount, opts...))
	mux.Handle(rpc.LedgerInfoProcedure, connect.NewUnaryHandler(rpc.LedgerInfoProcedure, s.Info, opts...))
	return rpc.LedgerPath, mux
}

func (s *LedgerServer) Submit(ctx context.Context, req *connect.Request[domain.SubmitTx]) (*connect.Response[rpc.TxResponse], error) {
	receipt, err := s.ledger.Submit(ctx, req.Msg)
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return connect.NewResponse(&rpc.TxResponse{TxID: receipt.TxID}), nil
}

func (s *LedgerServer) ClaimBadge(ctx context.Context, req *connect.Request[domain.ClaimBadgeTx]) (*connect.Response[rpc.TxResponse], error) {
	receipt, err := s.ledger.ClaimBadge(ctx, req.Msg)
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return connect.NewResponse(&rpc.TxResponse{TxID: receipt.TxID}), nil
}

func (s *LedgerServer) Receipt(ctx context.Context, req *connect.Request[rpc.ReceiptRequest]) (*connect.Response[domain.Receipt], error) {
	receipt, err := s.ledger.Receipt(ctx, req.Msg.TxID)
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return connect.NewResponse(receipt), nil
}

func (s *LedgerServer) TotalOf(ctx context.Context, req *connect.Request[rpc.AddressRequest]) (*connect.Response[rpc.HandleResponse], error) {
	owner, err := domain.ParseAddress(string(req.Msg.Address))
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	h, err := s.ledger.TotalOf(ctx, owner)
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return connect.NewResponse(&rpc.HandleResponse{Handle: h}), nil
}

func (s *LedgerServer) ScoreOf(ctx context.Context, req *connect.Request[rpc.SubmissionRequest]) (*connect.Response[rpc.HandleResponse], error) {
	h, err := s.ledger.ScoreOf(ctx, req.Msg.ID)
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return connect.NewResponse(&rpc.HandleResponse{Handle: h}), nil
}

func (s *LedgerServer) StatsOf(ctx context.Context, req *connect.Request[rpc.AddressRequest]) (*connect.Response[domain.PublicStats], error) {
	owner, err := domain.ParseAddress(string(req.Msg.Address))
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	stats, err := s.ledger.StatsOf(ctx, owner)
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return connect.NewResponse(&stats), nil
}

func (s *LedgerServer) IsClaimed(ctx context.Context, req *connect.Request[rpc.IsClaimedRequest]) (*connect.Response[rpc.IsClaimedResponse], error) {
	owner, err := domain.ParseAddress(string(req.Msg.Address))
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	claimed, err := s.ledger.IsClaimed(ctx, req.Msg.BadgeID, owner)
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return connect.NewResponse(&rpc.IsClaimedResponse{Claimed: claimed}), nil
}

func (s *LedgerServer) Claims(ctx context.Context, req *connect.Request[rpc.AddressRequest]) (*connect.Response[rpc.ClaimsResponse], error) {
	owner, err := domain.ParseAddress(string(req.Msg.Address))
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	claims, err := s.ledger.Claims(ctx, owner)
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return connect.NewResponse(&rpc.ClaimsResponse{Claims: claims}), nil
}

func (s *LedgerServer) Events(ctx context.Context, req *connect.Request[rpc.EventsRequest]) (*connect.Response[rpc.EventsResponse], error) {
	events, err := s.ledger.Events(ctx, req.Msg.AfterSeq, req.Msg.Limit)
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return connect.NewResponse(&rpc.EventsResponse{Events: events}), nil
}

func (s *LedgerServer) Now(_ context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[timestamppb.Timestamp], error) {
	return connect.NewResponse(timestamppb.New(s.ledger.Now())), nil
}

func (s *LedgerServer) SubmissionCount(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[wrapperspb.UInt64Value], error) {
	n, err := s.ledger.SubmissionCount(ctx)
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return connect.NewResponse(wrapperspb.UInt64(n)), nil
}

func (s *LedgerServer) Info(_ context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[rpc.LedgerInfoResponse], error) {
	return connect.NewResponse(&rpc.LedgerInfoResponse{ChainID: s.chainID, Address: s.ledger.Address()}), nil
}
