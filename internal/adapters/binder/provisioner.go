// Package binder provisions Jupyter servers through a BinderHub build API.
package binder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
	"github.com/bnema/jupyter-engine-manager/internal/logging"
	"github.com/bnema/jupyter-engine-manager/internal/ports"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	PhaseReady  = "ready"
	PhaseFailed = "failed"
)

type Options struct {
	HTTPClient *http.Client
	RetryMax   int
	Logger     *zap.Logger
}

type Provisioner struct {
	http *retryablehttp.Client
	log  *zap.Logger
}

var _ ports.Provisioner = (*Provisioner)(nil)

func NewProvisioner(opts Options) *Provisioner {
	log := logging.Component(opts.Logger, "binder")

	client := retryablehttp.NewClient()
	if opts.HTTPClient != nil {
		client.HTTPClient = opts.HTTPClient
	}
	client.RetryMax = opts.RetryMax
	client.Logger = logging.Retryable(log)
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Provisioner{http: client, log: log}
}

type buildEvent struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
	URL     string `json:"url"`
	Token   string `json:"token"`
}

// Provision returns the settings of a running server for cfg. A config with
// a direct URL names an existing server and skips the build.
func (p *Provisioner) Provision(ctx context.Context, cfg domain.ServerConfig, progress ports.StatusSink) (domain.ServerSettings, error) {
	if progress == nil {
		progress = ports.NopStatusSink{}
	}
	cfg = cfg.WithDefaults()
	if cfg.DirectURL != "" {
		settings, err := ParseDirectURL(cfg.DirectURL)
		if err != nil {
			return domain.ServerSettings{}, &domain.ProvisioningError{Phase: "direct", Err: err}
		}
		return settings, nil
	}

	endpoint, err := BuildURL(cfg)
	if err != nil {
		return domain.ServerSettings{}, &domain.ProvisioningError{Phase: "request", Err: err}
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.ServerSettings{}, &domain.ProvisioningError{Phase: "request", Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")

	p.log.Info("requesting server build", zap.String("endpoint", endpoint))
	resp, err := p.http.Do(req)
	if err != nil {
		return domain.ServerSettings{}, &domain.ProvisioningError{Phase: "request", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return domain.ServerSettings{}, &domain.ProvisioningError{
			Phase: "request",
			Err:   fmt.Errorf("binder returned %s", resp.Status),
		}
	}

	events := newEventReader(resp.Body)
	lastPhase := ""
	for events.Next() {
		var event buildEvent
		if err := json.Unmarshal([]byte(events.Data()), &event); err != nil {
			p.log.Debug("skipping undecodable build event", zap.Error(err))
			continue
		}
		if event.Phase != "" {
			lastPhase = event.Phase
		}
		if msg := strings.TrimSpace(event.Message); msg != "" {
			progress.ShowStatus(msg)
		}

		switch event.Phase {
		case PhaseReady:
			if event.URL == "" {
				return domain.ServerSettings{}, &domain.ProvisioningError{Phase: PhaseReady, Message: "server url missing"}
			}
			settings := domain.ServerSettings{BaseURL: withTrailingSlash(event.URL), Token: event.Token}
			p.log.Info("server ready", zap.String("url", settings.BaseURL))
			return settings, nil
		case PhaseFailed:
			return domain.ServerSettings{}, &domain.ProvisioningError{Phase: PhaseFailed, Message: strings.TrimSpace(event.Message)}
		}
	}
	if err := events.Err(); err != nil {
		return domain.ServerSettings{}, &domain.ProvisioningError{Phase: lastPhase, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return domain.ServerSettings{}, &domain.ProvisioningError{Phase: lastPhase, Err: err}
	}
	return domain.ServerSettings{}, &domain.ProvisioningError{Phase: lastPhase, Message: "build stream ended before the server was ready"}
}

// BuildURL is the build endpoint for cfg: {baseURL}/build/{provider}/{spec}.
func BuildURL(cfg domain.ServerConfig) (string, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse binder url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return "", fmt.Errorf("unsupported binder url scheme %q", base.Scheme)
	}
	if cfg.Provider == "" || cfg.Spec == "" {
		return "", errors.New("binder provider and spec are required")
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/build/" + cfg.Provider + "/" + strings.Trim(cfg.Spec, "/")
	base.RawPath = ""
	base.RawQuery = ""
	return base.String(), nil
}

// ParseDirectURL splits a notebook URL such as
// http://localhost:8888/?token=abc into its base URL and token.
func ParseDirectURL(raw string) (domain.ServerSettings, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return domain.ServerSettings{}, fmt.Errorf("parse notebook url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return domain.ServerSettings{}, fmt.Errorf("unsupported notebook url scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return domain.ServerSettings{}, errors.New("notebook url host is required")
	}

	token := parsed.Query().Get("token")
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.Path = strings.TrimSuffix(parsed.Path, "/tree")
	return domain.ServerSettings{BaseURL: withTrailingSlash(parsed.String()), Token: token}, nil
}

func withTrailingSlash(raw string) string {
	if strings.HasSuffix(raw, "/") {
		return raw
	}
	return raw + "/"
}
