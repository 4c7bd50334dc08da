// Package remote implements the item processor and pipeline stages as calls
// to an HTTP analysis service. Payloads are read from object storage and
// sent inline; the service's JSON answer becomes the item result.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/stockscan/internal/batch"
	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/stockscan/internal/infrastructure/storage/minio"
	"github.com/turtacn/stockscan/pkg/errors"
	"github.com/turtacn/stockscan/pkg/types/job"
)

// Version goes into the User-Agent header; the binary overrides it at
// startup.
var Version = "dev"

const (
	maxResponseBytes = 8 << 20
	maxErrorSnippet  = 512
)

// Config is the analyzer section of the configuration file.
type Config struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PayloadFetcher resolves an item's PayloadRef. *minio.PayloadStore
// implements it.
type PayloadFetcher interface {
	Fetch(ctx context.Context, ref string) (*minio.Payload, error)
}

type Option func(*Analyzer)

func WithHTTPClient(c *http.Client) Option {
	return func(a *Analyzer) {
		if c != nil {
			a.httpClient = c
		}
	}
}

// Analyzer calls <base>/v1/analyze for single-step runs and
// <base>/v1/stages/<stage> for pipelines.
type Analyzer struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
	payloads   PayloadFetcher
	logger     logging.Logger
}

// NewAnalyzer validates cfg.BaseURL. payloads may be nil, in which case
// only the ref is sent and the service fetches the object itself.
func NewAnalyzer(cfg Config, payloads PayloadFetcher, logger logging.Logger, opts ...Option) (*Analyzer, error) {
	if cfg.BaseURL == "" {
		return nil, errors.InvalidConfig("analyzer.base_url", "is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.InvalidConfig("analyzer.base_url", "must be an absolute http(s) URL")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	a := &Analyzer{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		userAgent:  "stockscan/" + Version,
		httpClient: &http.Client{Timeout: timeout},
		payloads:   payloads,
		logger:     logging.OrNop(logger).Named("analyzer"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

type analyzeRequest struct {
	ItemID      string            `json:"item_id"`
	Stage       string            `json:"stage,omitempty"`
	PayloadRef  string            `json:"payload_ref,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Payload     []byte            `json:"payload,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Previous    json.RawMessage   `json:"previous,omitempty"`
}

// Process is a batch.ProcessFunc[json.RawMessage].
func (a *Analyzer) Process(ctx context.Context, item job.Item) (json.RawMessage, error) {
	req, err := a.newRequest(ctx, item, true)
	if err != nil {
		return nil, err
	}
	return a.post(ctx, "/v1/analyze", req)
}

// Stage returns the StageFunc for kind. Only the decode stage carries the
// payload; later stages work on the previous stage's output.
func (a *Analyzer) Stage(kind batch.StageKind) batch.StageFunc[json.RawMessage] {
	path := "/v1/stages/" + url.PathEscape(kind.String())
	return func(ctx context.Context, item job.Item, prev json.RawMessage) (json.RawMessage, error) {
		req, err := a.newRequest(ctx, item, kind == batch.StageDecode)
		if err != nil {
			return nil, err
		}
		req.Stage = kind.String()
		if len(prev) > 0 {
			req.Previous = prev
		}
		return a.post(ctx, path, req)
	}
}

// Registry registers a stage for each kind, or for every known stage when
// kinds is empty.
func (a *Analyzer) Registry(kinds ...batch.StageKind) *batch.StageRegistry[json.RawMessage] {
	if len(kinds) == 0 {
		kinds = batch.AllStages()
	}
	reg := batch.NewStageRegistry[json.RawMessage]()
	for _, k := range kinds {
		reg.Register(k, a.Stage(k))
	}
	return reg
}

func (a *Analyzer) newRequest(ctx context.Context, item job.Item, withPayload bool) (*analyzeRequest, error) {
	req := &analyzeRequest{ItemID: item.ID, PayloadRef: item.PayloadRef, Metadata: item.Metadata}
	if !withPayload || a.payloads == nil || item.PayloadRef == "" {
		return req, nil
	}
	p, err := a.payloads.Fetch(ctx, item.PayloadRef)
	if err != nil {
		return nil, err
	}
	req.Payload = p.Data
	req.ContentType = p.ContentType
	return req, nil
}

func (a *Analyzer) post(ctx context.Context, path string, body *analyzeRequest) (json.RawMessage, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "encode analyze request").WithDetail(body.ItemID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "build analyze request")
	}
	requestID := uuid.New().String()
	a.setHeaders(req, requestID)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExternalService, "analyzer request failed").WithDetail(body.ItemID)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExternalService, "read analyzer response").WithDetail(body.ItemID)
	}
	a.logger.Debug("analyzer call",
		logging.String("path", path),
		logging.ItemID(body.ItemID),
		logging.Int("status", resp.StatusCode),
		logging.String("request_id", requestID),
		logging.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := data
		if len(snippet) > maxErrorSnippet {
			snippet = snippet[:maxErrorSnippet]
		}
		return nil, errors.Newf(errors.ErrCodeExternalService, "analyzer returned HTTP %d", resp.StatusCode).
			WithDetailf("item=%s request_id=%s body=%s", body.ItemID, requestID, bytes.TrimSpace(snippet))
	}
	if !json.Valid(data) {
		return nil, errors.New(errors.ErrCodeSerialization, "analyzer returned invalid JSON").WithDetail(body.ItemID)
	}
	return json.RawMessage(data), nil
}

func (a *Analyzer) setHeaders(req *http.Request, requestID string) {
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", a.userAgent)
	req.Header.Set("X-Request-ID", requestID)
}

// Ping checks <base>/healthz.
func (a *Analyzer) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/healthz", nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "build health request")
	}
	a.setHeaders(req, uuid.New().String())
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "analyzer unreachable")
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Newf(errors.ErrCodeServiceUnavailable, "analyzer health returned HTTP %d", resp.StatusCode)
	}
	return nil
}
