// Package server exposes the gateway over HTTP, OpenAI-envelope style.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nicholasgriffintn/ai-platform-sub010/internal/apperror"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/config"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/gateway"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/models"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/transport"
)

const (
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
)

// Server hosts the HTTP surface over one Gateway.
type Server struct {
	cfg     config.Config
	gw      *gateway.Gateway
	app     *echo.Echo
	address string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, gw *gateway.Gateway) (*Server, error) {
	if gw == nil {
		return nil, errors.New("gateway must not be nil")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))

	srv := &Server{
		cfg:     cfg,
		gw:      gw,
		app:     e,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
	}
	srv.registerRoutes()
	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("starting server", "addr", s.address)

	// Shutdown acts on echo's own server, so configure that one rather than
	// wrapping it.
	s.app.Server.Addr = s.address
	s.app.Server.ReadTimeout = readTimeout
	s.app.Server.IdleTimeout = idleTimeout

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(s.app.Server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.POST("/v1/chat/completions", s.handleChatCompletions)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req models.ChatRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return apperror.Wrap(apperror.CodeParams, "invalid JSON payload", err)
	}

	ctx := c.Request().Context()
	resp, stream, err := s.gw.GetResponse(ctx, &req)
	if err != nil {
		return err
	}

	if stream != nil {
		return s.streamResponse(c, stream)
	}
	return c.JSON(http.StatusOK, resp)
}

// streamResponse consumes the vendor byte stream, normalizes each chunk and
// re-emits canonical events over SSE.
func (s *Server) streamResponse(c echo.Context, stream io.ReadCloser) error {
	defer stream.Close()

	writer := c.Response().Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		return apperror.New(apperror.CodeInternal, "server does not support streaming responses")
	}

	header := c.Response().Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	decoder := transport.NewSSEDecoder(stream)
	for {
		sse, err := decoder.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Error("vendor stream read failed", "error", err)
			}
			return nil
		}
		if string(sse.Data) == "[DONE]" {
			return nil
		}
		event := s.gw.NormalizeChunk(sse.Data, sse.Event)
		if event == nil {
			continue
		}
		if err := writeSSEEvent(writer, event); err != nil {
			slog.Error("failed to write SSE event", "error", err)
			return nil
		}
		flusher.Flush()
	}
}

func writeSSEEvent(w io.Writer, event *models.StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := statusFor(apperror.CodeOf(err))
	var payload errorBody
	payload.Error.Message = apperror.UserMessage(err)
	payload.Error.Type = string(apperror.CodeOf(err))

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		payload.Error.Message = fmt.Sprintf("%v", he.Message)
		payload.Error.Type = string(apperror.CodeParams)
	}

	if err := c.JSON(status, payload); err != nil {
		slog.Error("failed to write error response", "error", err)
	}
}

func statusFor(code apperror.Code) int {
	switch code {
	case apperror.CodeParams:
		return http.StatusBadRequest
	case apperror.CodeAuthentication:
		return http.StatusForbidden
	case apperror.CodeUsageLimit:
		return http.StatusTooManyRequests
	case apperror.CodeConfiguration:
		return http.StatusNotImplemented
	case apperror.CodeExternalAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
