package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"score-ledger/internal/constants"
	"score-ledger/internal/domain"

	"github.com/valyala/fasthttp"
)

type ContentRef struct {
	Ref  string      `json:"ref"`
	Hash domain.Hash `json:"hash"`
}

// ContentClient uploads and fetches result documents.
type ContentClient struct {
	baseURL string
	client  *fasthttp.Client
}

func NewContentClient(baseURL string) *ContentClient {
	return &ContentClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &fasthttp.Client{
			MaxConnsPerHost:     16,
			ReadTimeout:         constants.ExternalAPITimeout,
			WriteTimeout:        constants.ExternalAPITimeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
	}
}

func (c *ContentClient) Put(ctx context.Context, body []byte) (*ContentRef, error) {
	return doRequest[ContentRef](ctx, c, fasthttp.MethodPut, c.baseURL+"/content", body, fasthttp.StatusCreated)
}

// Get fetches a document and checks it against the hash in its ref.
func (c *ContentClient) Get(ctx context.Context, ref string) ([]byte, error) {
	want, ok := strings.CutPrefix(ref, "sha256:")
	if !ok {
		return nil, fmt.Errorf("unsupported content ref %q", ref)
	}
	body, err := c.do(ctx, fasthttp.MethodGet, c.baseURL+"/content/"+ref, nil, fasthttp.StatusOK)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(body)
	if hex.EncodeToString(sum[:]) != want {
		return nil, fmt.Errorf("content %s does not match its hash", ref)
	}
	return body, nil
}

func doRequest[T any](ctx context.Context, client *ContentClient, method, url string, body []byte, wantStatus int) (*T, error) {
	payload, err := client.do(ctx, method, url, body, wantStatus)
	if err != nil {
		return nil, err
	}
	var result T
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *ContentClient) do(ctx context.Context, method, url string, body []byte, wantStatus int) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	if body != nil {
		req.Header.SetContentType("application/octet-stream")
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if ok {
		if err := c.client.DoDeadline(req, resp, deadline); err != nil {
			return nil, err
		}
	} else {
		if err := c.client.Do(req, resp); err != nil {
			return nil, err
		}
	}

	switch resp.StatusCode() {
	case wantStatus:
	case fasthttp.StatusNotFound:
		return nil, domain.ErrNotFound
	default:
		return nil, fmt.Errorf("content store error: %d", resp.StatusCode())
	}
	return bytes.Clone(resp.Body()), nil
}
