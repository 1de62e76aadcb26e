package payments

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const defaultHTTPTimeout = 15 * time.Second

// RESTConfig carries the transport settings shared by REST gateways.
type RESTConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     Logger
	// ReferencePrefix is prepended to generated payment references.
	ReferencePrefix string
}

func newRESTClient(cfg RESTConfig, defaultBaseURL string) *resty.Client {
	var client *resty.Client
	if cfg.HTTPClient != nil {
		client = resty.NewWithClient(cfg.HTTPClient)
	} else {
		client = resty.New()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return client.
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
}

func loggerOrNoop(logger Logger) Logger {
	if logger == nil {
		return noopLogger
	}
	return logger
}

func newReference(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

func gatewayFailure(provider Provider, op string, resp *resty.Response, err error, message string) *GatewayError {
	ge := &GatewayError{Provider: provider, Operation: op, Err: err, Message: message}
	if resp != nil {
		ge.StatusCode = resp.StatusCode()
		if ge.Message == "" {
			ge.Message = strings.TrimSpace(string(resp.Body()))
		}
	}
	return ge
}
