package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const forceStopTimeout = 5 * time.Second

// Config is a parameters for `http.Server`.
// APIRequestTimeout and ReadHeaderTimeout time.Duration in Seconds.
type Config struct {
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	EnableCORS bool   `json:"enable_cors" yaml:"enable_cors"`

	APIRequestTimeout int `json:"api_request_timeout" yaml:"api_request_timeout"`
	ReadHeaderTimeout int `json:"read_header_timeout" yaml:"read_header_timeout"`
}

// Validate - Validate config required fields
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Host, validation.Required),
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.APIRequestTimeout, validation.Min(0)),
		validation.Field(&c.ReadHeaderTimeout, validation.Min(0)),
	)
}

// TCPAddr returns tcp address for server.
func (c *Config) TCPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Server starts a standard HTTP server and shuts it down
// when the passed context is done.
// Warning: this Server does not process SSL/TLS certificates on its own.
type Server struct {
	config Config
	router http.Handler
	logger *logrus.Entry
}

// NewServer returns a new instance of `Server` with the passed configuration and HTTP router.
func NewServer(config Config, router http.Handler, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		config: config,
		router: router,
		logger: logger.WithField("service", "api-server"),
	}
}

// Run starts serving the passed `http.Handler` until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return errors.Wrap(err, "invalid api config")
	}

	readHeaderTimeout := time.Minute
	if s.config.ReadHeaderTimeout > 0 {
		readHeaderTimeout = time.Duration(s.config.ReadHeaderTimeout) * time.Second
	}

	handler := s.router
	if s.config.APIRequestTimeout > 0 {
		handler = http.TimeoutHandler(handler, time.Duration(s.config.APIRequestTimeout)*time.Second, "request timeout")
	}

	server := &http.Server{
		Addr:              s.config.TCPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serverFailed := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API Server at: ", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverFailed <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down the API Server...")
		serverCtx, cancel := context.WithTimeout(context.Background(), forceStopTimeout)
		defer cancel()

		if err := server.Shutdown(serverCtx); err != nil {
			return errors.Wrap(err, "server shutdown failed")
		}
		s.logger.Info("Api Server gracefully stopped")
		return nil
	case err := <-serverFailed:
		return errors.Wrap(err, "server failed")
	}
}
