package client

import (
	"context"
	"fmt"
	"strings"

	"score-ledger/internal/domain"
	"score-ledger/internal/fhe"
	"score-ledger/internal/rpc"

	"connectrpc.com/connect"
)

// RelayerClient is the client side of the encryption boundary: it requests
// encrypted inputs and opens re-encrypted cleartexts with the capability key.
type RelayerClient struct {
	encrypt *connect.Client[rpc.EncryptInputRequest, fhe.ExternalInput]
	decrypt *connect.Client[fhe.UserDecryptRequest, rpc.UserDecryptResponse]
}

func NewRelayerClient(httpClient connect.HTTPClient, baseURL string) *RelayerClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts := connect.WithCodec(rpc.Codec{})
	return &RelayerClient{
		encrypt: connect.NewClient[rpc.EncryptInputRequest, fhe.ExternalInput](httpClient, baseURL+rpc.EncryptInputProcedure, opts),
		decrypt: connect.NewClient[fhe.UserDecryptRequest, rpc.UserDecryptResponse](httpClient, baseURL+rpc.UserDecryptProcedure, opts),
	}
}

func (c *RelayerClient) EncryptUint32(ctx context.Context, ledger, user domain.Address, value uint32) (fhe.ExternalInput, error) {
	resp, err := c.encrypt.CallUnary(ctx, connect.NewRequest(&rpc.EncryptInputRequest{Ledger: ledger, User: user, Value: value}))
	if err != nil {
		return fhe.ExternalInput{}, rpc.FromConnectError(err)
	}
	return *resp.Msg, nil
}

func (c *RelayerClient) UserDecrypt(ctx context.Context, req fhe.UserDecryptRequest) (map[domain.Handle]uint64, error) {
	resp, err := c.decrypt.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return nil, rpc.FromConnectError(err)
	}
	out := make(map[domain.Handle]uint64, len(resp.Msg.Values))
	for _, v := range resp.Msg.Values {
		value, err := fhe.Open(&req.Capability, v)
		if err != nil {
			return nil, fmt.Errorf("failed to open value: %w", err)
		}
		out[v.Handle] = value
	}
	return out, nil
}
