package server

import (
	"context"
	"net/http"

	"score-ledger/internal/domain"
	"score-ledger/internal/fhe"
	"score-ledger/internal/rpc"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
)

// RelayerServer exposes the coprocessor to clients: input encryption and
// re-encryption of cleartexts to a capability key.
type RelayerServer struct {
	coprocessor *fhe.Coprocessor
	logger      zerolog.Logger
}

func NewRelayerServer(coprocessor *fhe.Coprocessor, logger zerolog.Logger) *RelayerServer {
	return &RelayerServer{coprocessor: coprocessor, logger: logger}
}

func (s *RelayerServer) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(rpc.EncryptInputProcedure, connect.NewUnaryHandler(rpc.EncryptInputProcedure, s.EncryptInput, opts...))
	mux.Handle(rpc.UserDecryptProcedure, connect.NewUnaryHandler(rpc.UserDecryptProcedure, s.UserDecrypt, opts...))
	return rpc.RelayerPath, mux
}

func (s *RelayerServer) EncryptInput(ctx context.Context, req *connect.Request[rpc.EncryptInputRequest]) (*connect.Response[fhe.ExternalInput], error) {
	user, err := domain.ParseAddress(string(req.Msg.User))
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	ledgerAddr, err := domain.ParseAddress(string(req.Msg.Ledger))
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	in, err := s.coprocessor.EncryptInput(ctx, user, ledgerAddr, req.Msg.Value)
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return connect.NewResponse(&in), nil
}

func (s *RelayerServer) UserDecrypt(ctx context.Context, req *connect.Request[fhe.UserDecryptRequest]) (*connect.Response[rpc.UserDecryptResponse], error) {
	values, err := s.coprocessor.UserDecrypt(ctx, *req.Msg)
	if err != nil {
		s.logger.Warn().Err(err).Str("user", req.Msg.Capability.UserAddress.String()).Msg("user decryption refused")
		return nil, rpc.ToConnectError(err)
	}
	return connect.NewResponse(&rpc.UserDecryptResponse{Values: values}), nil
}
