package cybersponse

import (
	"context"
	"fmt"

	"github.com/Ashfaaq98/cybersponse-lookup/internal/auth"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/cache"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/httpclient"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/logging"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/store"
)

// Requester issues an authenticated API call and decodes the response.
type Requester interface {
	Do(ctx context.Context, creds auth.Credentials, req httpclient.Request, out interface{}) error
}

// Recorder persists action invocation attempts.
type Recorder interface {
	RecordInvocation(ctx context.Context, inv store.Invocation) error
}

// Config is the startup configuration of a Service.
type Config struct {
	Request httpclient.Options
	Cache   cache.Options
}

// Service is the integration core: it owns the HTTP client, the token cache
// and the response cache for the lifetime of the process.
type Service struct {
	client    Requester
	responses *cache.Manager
	recorder  Recorder
	logger    logging.Logger
}

// Startup builds a Service from host supplied transport and cache options.
func Startup(cfg Config, logger logging.Logger) (*Service, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	client, err := httpclient.New(cfg.Request, auth.NewTokenCache(), logger)
	if err != nil {
		return nil, fmt.Errorf("startup failed: %w", err)
	}

	responses := cache.NewManager(cfg.Cache, logger)
	logger.Info("integration started",
		"proxy", cfg.Request.Proxy != "",
		"client_cert", cfg.Request.Cert != "",
		"redis_cache", cfg.Cache.RedisURL != "",
		"single_flight", cfg.Cache.SingleFlight)

	return NewService(client, responses, logger), nil
}

// NewService assembles a Service from its collaborators.
func NewService(client Requester, responses *cache.Manager, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	if responses == nil {
		responses = cache.NewManager(cache.Options{}, logger)
	}
	return &Service{client: client, responses: responses, logger: logger}
}

// SetRecorder attaches an audit recorder for Invoke.
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// Cache exposes the response cache.
func (s *Service) Cache() *cache.Manager {
	return s.responses
}

// Close releases the response cache.
func (s *Service) Close() error {
	return s.responses.Close()
}
