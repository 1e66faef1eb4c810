package jupyter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
	"github.com/bnema/jupyter-engine-manager/internal/logging"
	"github.com/bnema/jupyter-engine-manager/internal/ports"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	maxResponseBytes        = 8 << 20
	defaultRequestTimeout   = 30 * time.Second
	defaultHandshakeTimeout = 45 * time.Second
)

type Options struct {
	HTTPClient       *http.Client
	RequestTimeout   time.Duration
	RetryMax         int
	RetryWaitMin     time.Duration
	RetryWaitMax     time.Duration
	HandshakeTimeout time.Duration
	Logger           *zap.Logger
}

// Transport talks to Jupyter servers over the REST API and kernel
// websockets.
type Transport struct {
	http           *retryablehttp.Client
	dialer         *websocket.Dialer
	requestTimeout time.Duration
	log            *zap.Logger
}

var (
	_ ports.KernelTransport = (*Transport)(nil)
	_ ports.ContentsBrowser = (*Transport)(nil)
)

func NewTransport(opts Options) *Transport {
	log := logging.Component(opts.Logger, "jupyter")

	client := retryablehttp.NewClient()
	if opts.HTTPClient != nil {
		client.HTTPClient = opts.HTTPClient
	}
	client.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		client.RetryWaitMax = opts.RetryWaitMax
	}
	client.Logger = logging.Retryable(log)
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	handshake := opts.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	return &Transport{
		http: client,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshake,
		},
		requestTimeout: requestTimeout,
		log:            log,
	}
}

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Reason string
}

func (e *StatusError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Reason)
}

type kernelSpecsResponse struct {
	Default     string                     `json:"default"`
	KernelSpecs map[string]json.RawMessage `json:"kernelspecs"`
}

type kernelModelResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ExecutionState string `json:"execution_state"`
}

func (m kernelModelResponse) model() domain.KernelModel {
	return domain.KernelModel{ID: m.ID, Name: m.Name, ExecutionState: m.ExecutionState}
}

func (t *Transport) KernelSpecs(ctx context.Context, settings domain.ServerSettings) (domain.KernelSpecs, error) {
	var payload kernelSpecsResponse
	if err := t.do(ctx, settings, http.MethodGet, "api/kernelspecs", nil, &payload); err != nil {
		return domain.KernelSpecs{}, fmt.Errorf("get kernel specs: %w", err)
	}

	specs := domain.KernelSpecs{Default: payload.Default, Names: make([]string, 0, len(payload.KernelSpecs))}
	for name := range payload.KernelSpecs {
		specs.Names = append(specs.Names, name)
	}
	sort.Strings(specs.Names)
	return specs, nil
}

func (t *Transport) StartKernel(ctx context.Context, settings domain.ServerSettings, specName string) (ports.Kernel, error) {
	body := map[string]string{}
	if specName != "" {
		body["name"] = specName
	}

	var payload kernelModelResponse
	if err := t.do(ctx, settings, http.MethodPost, "api/kernels", body, &payload); err != nil {
		return nil, fmt.Errorf("start kernel: %w", err)
	}
	if payload.ID == "" {
		return nil, errors.New("start kernel: response missing kernel id")
	}

	t.log.Debug("kernel started", zap.String("kernel_id", payload.ID), zap.String("spec", payload.Name))
	return t.ConnectKernel(ctx, settings, payload.model())
}

func (t *Transport) FindKernel(ctx context.Context, settings domain.ServerSettings, kernelID string) (domain.KernelModel, error) {
	var payload kernelModelResponse
	err := t.do(ctx, settings, http.MethodGet, "api/kernels/"+url.PathEscape(kernelID), nil, &payload)
	if err != nil {
		return domain.KernelModel{}, fmt.Errorf("find kernel %s: %w", kernelID, notFoundAsKernel(err))
	}
	return payload.model(), nil
}

func (t *Transport) ConnectKernel(ctx context.Context, settings domain.ServerSettings, model domain.KernelModel) (ports.Kernel, error) {
	k := newKernel(t, settings, model)
	if err := k.connect(ctx); err != nil {
		return nil, err
	}
	return k, nil
}

func (t *Transport) shutdownKernel(ctx context.Context, settings domain.ServerSettings, kernelID string) error {
	err := t.do(ctx, settings, http.MethodDelete, "api/kernels/"+url.PathEscape(kernelID), nil, nil)
	if err != nil {
		return fmt.Errorf("shutdown kernel %s: %w", kernelID, notFoundAsKernel(err))
	}
	return nil
}

func notFoundAsKernel(err error) error {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", domain.ErrKernelNotFound, statusErr.Error())
	}
	return err
}

func (t *Transport) do(ctx context.Context, settings domain.ServerSettings, method, path string, body any, out any) error {
	endpoint, err := buildURL(settings.BaseURL, path)
	if err != nil {
		return err
	}

	var raw any
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		raw = encoded
	}

	requestCtx, cancel := t.requestContext(ctx)
	defer cancel()
	req, err := retryablehttp.NewRequestWithContext(requestCtx, method, endpoint, raw)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	setToken(req.Header, settings.Token)

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Reason: decodeReason(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (t *Transport) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.requestTimeout)
}

func setToken(h http.Header, token string) {
	if token != "" {
		h.Set("Authorization", "token "+token)
	}
}

func decodeReason(r io.Reader) string {
	var payload struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(io.LimitReader(r, maxResponseBytes)).Decode(&payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Reason
}

// buildURL resolves path against the server base URL, treating the base as a
// directory.
func buildURL(baseURL, path string) (string, error) {
	if baseURL == "" {
		return "", errors.New("server base url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse server base url: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.New("server base url host is required")
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	parsed.RawPath = ""

	endpoint, err := parsed.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", fmt.Errorf("parse api path: %w", err)
	}
	return endpoint.String(), nil
}
