package server

import (
	"net/http"

	"score-ledger/internal/middleware"
	"score-ledger/internal/rpc"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// NewRouter wires the ledger and relayer services, the content store and
// the metrics endpoint behind CORS and request logging.
func NewRouter(ledgerSrv *LedgerServer, relayerSrv *RelayerServer, contentSrv *ContentServer, logger zerolog.Logger) http.Handler {
	opts := []connect.HandlerOption{connect.WithCodec(rpc.Codec{})}

	mux := http.NewServeMux()
	mux.Handle(ledgerSrv.Handler(opts...))
	mux.Handle(relayerSrv.Handler(opts...))
	contentSrv.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{rpc.ErrorHeader, middleware.RequestIDHeader},
		AllowCredentials: true,
	})

	return middleware.RequestID(logger)(c.Handler(mux))
}
