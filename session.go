package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	channel "github.com/lorrc/service-desk-realtime/internal/adapters/primary/realtime"
	"github.com/lorrc/service-desk-realtime/internal/adapters/primary/poll"
	"github.com/lorrc/service-desk-realtime/internal/adapters/secondary/cache"
	"github.com/lorrc/service-desk-realtime/internal/adapters/secondary/rest"
	"github.com/lorrc/service-desk-realtime/internal/config"
	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
	"github.com/lorrc/service-desk-realtime/internal/core/services"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
)

// Re-exported types so embedding applications never import internal packages.
type (
	Notification      = domain.Notification
	NotificationKind  = domain.NotificationKind
	ReassignmentOffer = domain.ReassignmentOffer
	OfferState        = domain.OfferState
	ConnectionState   = domain.ConnectionState
	Toast             = ports.Toast
	Alerter           = ports.Alerter
)

// Re-exported error predicates for callers branching on failure class.
var (
	IsNotFound = apperrors.IsNotFound
	IsConflict = apperrors.IsConflict
	IsAuth     = apperrors.IsAuth
)

// TokenProvider supplies the current bearer token, or "" when the user is
// signed out. Owned by the session/auth collaborator.
type TokenProvider func() string

// Option configures a Session.
type Option func(*Session)

// WithLogger overrides the logger built from config.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithAlerter wires the toast surface. Without one, toasts are dropped.
func WithAlerter(alerter ports.Alerter) Option {
	return func(s *Session) { s.alerter = alerter }
}

// WithAuthErrorHandler registers the callback invoked when credentials are
// missing or expired, so the host can trigger re-authentication.
func WithAuthErrorHandler(fn func(error)) Option {
	return func(s *Session) { s.onAuthError = fn }
}

// WithSnapshotCache overrides the default sqlite cache, mainly for tests.
func WithSnapshotCache(c ports.SnapshotCache) Option {
	return func(s *Session) { s.cache = c }
}

// nopAlerter drops toasts when the host wires no surface.
type nopAlerter struct{}

func (nopAlerter) Alert(ports.Toast) {}

// Session owns the whole coordination layer for one signed-in agent: channel,
// poller, store, toast dispatcher and hand-off coordinator, with a single
// teardown path. No ambient globals: every instance is isolated.
type Session struct {
	cfg     *config.Config
	logger  *slog.Logger
	agentID uuid.UUID
	token   TokenProvider

	alerter     ports.Alerter
	onAuthError func(error)

	cache      ports.SnapshotCache
	api        *rest.Client
	store      *services.Store
	reconciler *services.Reconciler
	toasts     *services.ToastDispatcher
	handoff    *services.Handoff
	channel    *channel.Channel
	poller     *poll.Poller

	mu          sync.Mutex
	started     bool
	closed      bool
	activeRoom  string
	ticketTopic *domain.Topic
	cancel      context.CancelFunc
	tickerStop  chan struct{}
}

// NewSession wires a session for the given agent. The snapshot cache is read
// synchronously here, before any network is touched, so Feed() is populated
// immediately after construction.
func NewSession(cfg *config.Config, agentID uuid.UUID, token TokenProvider, opts ...Option) (*Session, error) {
	s := &Session{
		cfg:     cfg,
		agentID: agentID,
		token:   token,
		alerter: nopAlerter{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logging.NewLogger(logging.Config{
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			ServiceName: cfg.App.Name,
			Environment: cfg.App.Environment,
		})
	}
	s.logger = s.logger.With("agent_id", agentID.String())

	if s.cache == nil {
		c, err := cache.New(cfg.Cache.Path)
		if err != nil {
			return nil, err
		}
		s.cache = c
	}

	s.api = rest.NewClient(rest.Config{
		BaseURL:        cfg.API.BaseURL,
		RequestTimeout: cfg.API.RequestTimeout,
		MutationRPS:    cfg.API.MutationRPS,
		MutationBurst:  cfg.API.MutationBurst,
	}, s.tokenString, s.logger)

	s.store = services.NewStore(s.api, s.cache, s.logger)
	s.reconciler = services.NewReconciler(s.store, s.logger)
	s.toasts = services.NewToastDispatcher(s.alerter, s.currentRoom, cfg.Toast.BacklogThreshold, s.logger)
	s.reconciler.Subscribe(s.toasts.HandleDiff)
	s.handoff = services.NewHandoff(s.api, agentID, s.logger)

	s.channel = channel.NewChannel(channel.Config{
		URL:              cfg.Realtime.URL,
		HandshakeTimeout: cfg.Realtime.HandshakeTimeout,
		WriteWait:        cfg.Realtime.WriteWait,
		PongWait:         cfg.Realtime.PongWait,
		ReconnectInitial: cfg.Realtime.ReconnectInitial,
		ReconnectMax:     cfg.Realtime.ReconnectMax,
	}, s.tokenString, s.logger)
	s.channel.AddSink(s.reconciler)
	s.channel.AddSink(s.handoff)
	s.channel.Subscribe(domain.PersonalTopic())

	s.poller = poll.New(cfg.Poll.Interval, s.pollCycle, s.logger)
	s.store.SetResyncer(s.poller)
	s.handoff.SetResyncer(s.poller)

	// After every (re)connect: the next diff is the backlog burst, and a
	// fresh poll covers whatever the outage missed.
	s.channel.OnOpen(func() {
		s.toasts.ResetBacklog()
		s.poller.PollNow()
	})

	return s, nil
}

// Connect brings the layer up: one eager poll, the push subscription, and the
// 1 Hz offer countdown. Without a token nothing is attempted and the auth
// error handler fires.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.tickerStop = make(chan struct{})
	s.mu.Unlock()

	if s.tokenString() == "" {
		err := apperrors.NewAuthError("cannot connect without credentials")
		s.surfaceAuthError(err)
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		cancel()
		return err
	}

	s.poller.Start(runCtx)
	if err := s.channel.Connect(runCtx); err != nil && apperrors.IsAuth(err) {
		s.surfaceAuthError(err)
	}
	go s.countdownLoop()

	s.logger.Info("session connected")
	return nil
}

// Close tears the session down: channel, poll timer, reconnect backoff and
// offer countdown all stop, so no stale callback can fire afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	started := s.started
	tickerStop := s.tickerStop
	cancel := s.cancel
	s.mu.Unlock()

	s.channel.Close()
	if started {
		s.poller.Stop()
		close(tickerStop)
		cancel()
	}
	if closer, ok := s.cache.(*cache.SQLiteCache); ok {
		_ = closer.Close()
	}
	s.logger.Info("session closed")
}

// --- feed surface ---

// Feed returns the canonical feed, newest first.
func (s *Session) Feed() []domain.Notification {
	return s.store.List()
}

// UnreadCount returns the number of unread items.
func (s *Session) UnreadCount() int {
	return s.store.UnreadCount()
}

// OnEvent registers a callback for every newly admitted notification,
// deduplicated across sources.
func (s *Session) OnEvent(fn func(domain.Notification)) {
	s.reconciler.Subscribe(func(admitted []domain.Notification) {
		for _, n := range admitted {
			fn(n)
		}
	})
}

// MarkRead marks one notification read.
func (s *Session) MarkRead(ctx context.Context, id string) error {
	return s.store.MarkRead(ctx, id)
}

// Delete removes one notification.
func (s *Session) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// MarkAllRead marks the whole feed read.
func (s *Session) MarkAllRead(ctx context.Context) error {
	return s.store.MarkAllRead(ctx)
}

// ClearAll empties the feed.
func (s *Session) ClearAll(ctx context.Context) error {
	return s.store.ClearAll(ctx)
}

// --- hand-off surface ---

// OfferReassignment proposes handing a ticket to another agent.
func (s *Session) OfferReassignment(ctx context.Context, ticketID int64, toAgentID uuid.UUID, windowSeconds int) (*domain.ReassignmentOffer, error) {
	return s.handoff.Offer(ctx, ticketID, toAgentID, windowSeconds)
}

// AcceptOffer confirms an incoming offer.
func (s *Session) AcceptOffer(ctx context.Context, ticketID int64) (*domain.ReassignmentOffer, error) {
	return s.handoff.Accept(ctx, ticketID)
}

// RejectOffer declines an incoming offer.
func (s *Session) RejectOffer(ctx context.Context, ticketID int64) (*domain.ReassignmentOffer, error) {
	return s.handoff.Reject(ctx, ticketID)
}

// PendingOffers lists offers still awaiting a response.
func (s *Session) PendingOffers() []domain.ReassignmentOffer {
	return s.handoff.PendingOffers()
}

// CanReassign reports whether the reassign affordance is enabled for a ticket.
func (s *Session) CanReassign(ticketID int64) bool {
	return s.handoff.CanReassign(ticketID)
}

// OnOfferChange registers an observer for offer lifecycle updates.
func (s *Session) OnOfferChange(fn func(domain.ReassignmentOffer)) {
	s.handoff.Subscribe(fn)
}

// --- navigation / topics ---

// SetActiveRoom records which conversation the user is looking at, so toasts
// for that room are suppressed. Pass "" when leaving.
func (s *Session) SetActiveRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeRoom = roomID
}

// OpenTicketRoom switches the ticket-room subscription. The previous room is
// unsubscribed first, so its frames are never attributed to the new one.
func (s *Session) OpenTicketRoom(ticketID int64) {
	topic := domain.TicketTopic(ticketID)

	s.mu.Lock()
	previous := s.ticketTopic
	s.ticketTopic = &topic
	s.mu.Unlock()

	if previous != nil {
		s.channel.Unsubscribe(*previous)
	}
	s.channel.Subscribe(topic)
}

// LeaveTicketRoom drops the current ticket-room subscription, if any.
func (s *Session) LeaveTicketRoom() {
	s.mu.Lock()
	previous := s.ticketTopic
	s.ticketTopic = nil
	s.mu.Unlock()

	if previous != nil {
		s.channel.Unsubscribe(*previous)
	}
}

// JoinGroupRoom subscribes to a group room.
func (s *Session) JoinGroupRoom(groupID string) {
	s.channel.Subscribe(domain.GroupTopic(groupID))
}

// LeaveGroupRoom unsubscribes from a group room.
func (s *Session) LeaveGroupRoom(groupID string) {
	s.channel.Unsubscribe(domain.GroupTopic(groupID))
}

// ConnectionState returns the push channel's current state.
func (s *Session) ConnectionState() domain.ConnectionState {
	return s.channel.State()
}

// --- internals ---

func (s *Session) tokenString() string {
	if s.token == nil {
		return ""
	}
	return s.token()
}

func (s *Session) currentRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRoom
}

// pollCycle is the scheduled task: fetch the canonical feed, merge it, and
// reconcile offer states. Gap-filling after socket outages happens here.
func (s *Session) pollCycle(ctx context.Context) error {
	payload, err := s.api.FetchFeed(ctx)
	if err != nil {
		if apperrors.IsAuth(err) {
			s.surfaceAuthError(err)
		}
		return err
	}

	items, err := poll.NormalizeFeed(payload)
	if err != nil {
		return err
	}
	s.reconciler.Merge(items)

	return s.handoff.Refresh(ctx)
}

// countdownLoop drives the courtesy offer countdown at 1 Hz.
func (s *Session) countdownLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.tickerStop:
			return
		case <-ticker.C:
			s.handoff.TickCountdown()
		}
	}
}

func (s *Session) surfaceAuthError(err error) {
	s.logger.Warn("authentication required", "error", err)
	if s.onAuthError != nil {
		s.onAuthError(err)
	}
}
