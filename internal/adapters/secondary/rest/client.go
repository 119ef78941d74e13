// Package rest is the secondary adapter consuming the helpdesk REST API: the
// notification feed endpoints and the reassignment offer protocol.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
)

// Config holds REST client tuning.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	// MutationRPS/MutationBurst pace mutating calls so a burst of mark-read
	// clicks cannot flood the backend.
	MutationRPS   float64
	MutationBurst int
}

// DefaultConfig returns sensible client defaults.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		RequestTimeout: 10 * time.Second,
		MutationRPS:    5,
		MutationBurst:  10,
	}
}

// Client talks to the ticket/notification collaborator. It never interprets
// business rules; it maps transport and HTTP status into the error taxonomy
// and decodes payloads.
type Client struct {
	baseURL string
	http    *http.Client
	token   func() string
	limiter *rate.Limiter
	logger  *slog.Logger
}

var (
	_ ports.NotificationAPI = (*Client)(nil)
	_ ports.TicketAPI       = (*Client)(nil)
)

// NewClient builds a client. token supplies the current bearer token.
func NewClient(cfg Config, token func() string, logger *slog.Logger) *Client {
	if cfg.MutationRPS <= 0 {
		cfg.MutationRPS = DefaultConfig("").MutationRPS
	}
	if cfg.MutationBurst <= 0 {
		cfg.MutationBurst = DefaultConfig("").MutationBurst
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		token:   token,
		limiter: rate.NewLimiter(rate.Limit(cfg.MutationRPS), cfg.MutationBurst),
		logger:  logger.With("component", "rest_client"),
	}
}

// SetHTTPClient overrides the underlying HTTP client, mainly for tests.
func (c *Client) SetHTTPClient(hc *http.Client) {
	if hc != nil {
		c.http = hc
	}
}

// --- NotificationAPI ---

func (c *Client) FetchFeed(ctx context.Context) (json.RawMessage, error) {
	var body json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/v1/notifications", nil, &body, false); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/notifications/"+url.PathEscape(id)+"/read", nil, nil, true)
}

func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/notifications/read-all", nil, nil, true)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/notifications/"+url.PathEscape(id), nil, nil, true)
}

func (c *Client) ClearAll(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/notifications", nil, nil, true)
}

// --- TicketAPI ---

type offerRequest struct {
	ToAgentID     uuid.UUID `json:"toAgentId"`
	WindowSeconds int       `json:"windowSeconds"`
}

func (c *Client) OfferReassignment(ctx context.Context, params ports.OfferParams) (*domain.ReassignmentOffer, error) {
	var offer domain.ReassignmentOffer
	path := fmt.Sprintf("/api/v1/tickets/%d/reassignment", params.TicketID)
	req := offerRequest{ToAgentID: params.ToAgentID, WindowSeconds: params.WindowSeconds}
	if err := c.do(ctx, http.MethodPost, path, req, &offer, true); err != nil {
		return nil, err
	}
	return &offer, nil
}

func (c *Client) AcceptReassignment(ctx context.Context, ticketID int64) (*domain.ReassignmentOffer, error) {
	return c.respondReassignment(ctx, ticketID, "accept")
}

func (c *Client) RejectReassignment(ctx context.Context, ticketID int64) (*domain.ReassignmentOffer, error) {
	return c.respondReassignment(ctx, ticketID, "reject")
}

func (c *Client) respondReassignment(ctx context.Context, ticketID int64, action string) (*domain.ReassignmentOffer, error) {
	var offer domain.ReassignmentOffer
	path := fmt.Sprintf("/api/v1/tickets/%d/reassignment/%s", ticketID, action)
	if err := c.do(ctx, http.MethodPost, path, nil, &offer, true); err != nil {
		return nil, err
	}
	return &offer, nil
}

func (c *Client) ListOffers(ctx context.Context) ([]*domain.ReassignmentOffer, error) {
	var offers []*domain.ReassignmentOffer
	if err := c.do(ctx, http.MethodGet, "/api/v1/tickets/reassignments", nil, &offers, false); err != nil {
		return nil, err
	}
	return offers, nil
}

// --- plumbing ---

func (c *Client) do(ctx context.Context, method, path string, in, out any, mutation bool) error {
	token, err := c.ensureToken()
	if err != nil {
		return err
	}

	if mutation {
		if err := c.limiter.Wait(ctx); err != nil {
			return apperrors.NewTransportError(err)
		}
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return apperrors.NewInternalError(err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.NewTransportError(err)
	}
	defer resp.Body.Close()

	if err := mapStatus(resp.StatusCode); err != nil {
		c.logger.Debug("request failed",
			"method", method,
			"path", path,
			"status_code", resp.StatusCode,
		)
		return err
	}

	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewTransportError(err)
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = data
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.NewDecodeError(err)
	}
	return nil
}

// ensureToken checks credentials before spending a round trip. The token is
// inspected without signature verification; only the server holds the secret,
// and the server remains the authority either way.
func (c *Client) ensureToken() (string, error) {
	token := c.token()
	if token == "" {
		return "", apperrors.NewAuthError("no bearer token available")
	}

	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err == nil {
		if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
			return "", apperrors.NewAuthError("bearer token expired")
		}
	}
	return token, nil
}

func mapStatus(code int) error {
	switch {
	case code < 400:
		return nil
	case code == http.StatusNotFound:
		return apperrors.NewNotFoundError(nil, "resource missing server-side")
	case code == http.StatusConflict:
		return apperrors.NewConflictError(nil, "request conflicts with server state")
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return apperrors.NewAuthError("request rejected by collaborator")
	case code == http.StatusUnprocessableEntity || code == http.StatusBadRequest:
		return apperrors.NewValidationError(fmt.Errorf("status %d", code), "request rejected as invalid")
	default:
		return apperrors.NewTransportError(fmt.Errorf("unexpected status %d", code))
	}
}
