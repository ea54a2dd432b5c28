// Package controller is the session state machine for a dashboard surface.
// It owns the auth state transitions, schedules proactive token refresh,
// mirrors pending-flow expiries, and keeps other surfaces in sync over the
// broadcast bus. All network and timer callbacks funnel through one mutex and
// a generation counter, so a stale async result can never overwrite a newer
// identity.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"beacon/internal/client/api"
	"beacon/internal/client/broadcast"
	"beacon/internal/client/custody"
	"beacon/internal/client/persist"
	"beacon/internal/client/poller"
	"beacon/internal/clock"
	"beacon/internal/identity/models"
	"beacon/internal/platform/metrics"
	dErrors "beacon/pkg/domain-errors"
)

// State is the controller's externally visible auth state.
type State string

const (
	StateUnauthenticated  State = "unauthenticated"
	StateAnonymous        State = "authed_anonymous"
	StateMagicLinkPending State = "magic_link_pending"
	StateOAuthPending     State = "oauth_pending"
	StateVerified         State = "authed_verified"
	StateEvicted          State = "session_evicted"
)

// Client-side mirrors of the server-enforced pending expiries, used to revert
// a pending state the user abandoned.
const (
	magicLinkPendingTTL = time.Hour
	oauthPendingTTL     = 5 * time.Minute
)

// Snapshot is a point-in-time copy of the controller state for rendering.
type Snapshot struct {
	State            State
	User             *models.User
	SessionExpiresAt time.Time
	LastError        string
}

// Config carries the controller's tunables.
type Config struct {
	// RefreshBuffer is how long before session expiry the proactive refresh
	// fires.
	RefreshBuffer time.Duration
	// LivenessInterval is how often the controller checks whether expiry has
	// already passed.
	LivenessInterval time.Duration
	// RehydrateTimeout bounds the snapshot load on startup; past it the
	// controller proceeds unauthenticated rather than hang.
	RehydrateTimeout time.Duration
}

// Controller drives the session lifecycle against the identity service.
type Controller struct {
	cfg       Config
	logger    *slog.Logger
	clk       clock.Clock
	api       *api.Client
	cell      *custody.Cell
	snapshots persist.Store
	bus       broadcast.Bus
	metrics   *metrics.Client
	origin    string

	mu               sync.Mutex
	state            State
	user             *models.User
	sessionExpiresAt time.Time
	lastErr          string

	// gen increments on every identity reset; async results captured under an
	// older generation are discarded instead of applied.
	gen uint64

	refreshTimer  clock.Timer
	livenessTimer clock.Timer
	pendingTimer  clock.Timer

	refreshGroup singleflight.Group
	busCancel    func()
}

// New wires a controller. bus and snapshots may be the in-memory
// implementations for single-surface use.
func New(cfg Config, logger *slog.Logger, clk clock.Clock, apiClient *api.Client, cell *custody.Cell, snapshots persist.Store, bus broadcast.Bus, m *metrics.Client) *Controller {
	c := &Controller{
		cfg:       cfg,
		logger:    logger,
		clk:       clk,
		api:       apiClient,
		cell:      cell,
		snapshots: snapshots,
		bus:       bus,
		metrics:   m,
		origin:    uuid.NewString(),
		state:     StateUnauthenticated,
	}
	c.busCancel = bus.Subscribe(c.handleEvent)
	return c
}

// Session returns a copy of the current state.
func (c *Controller) Session() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		State:            c.state,
		SessionExpiresAt: c.sessionExpiresAt,
		LastError:        c.lastErr,
	}
	if c.user != nil {
		cp := *c.user
		snap.User = &cp
	}
	return snap
}

// Start bootstraps the controller: rehydrate from the persisted snapshot when
// one survives and is not expired, otherwise create an anonymous session so
// the surface is never fully unauthenticated. The snapshot load is bounded by
// RehydrateTimeout and degrades to the anonymous path on overrun.
func (c *Controller) Start(ctx context.Context) error {
	if snap := c.loadSnapshot(ctx); snap.Usable(c.clk.Now()) {
		c.adopt(snap)
		return nil
	}
	return c.createAnonymous(ctx)
}

func (c *Controller) loadSnapshot(ctx context.Context) *persist.Snapshot {
	type loaded struct {
		snap *persist.Snapshot
		err  error
	}
	ch := make(chan loaded, 1)
	go func() {
		snap, err := c.snapshots.Load(ctx)
		ch <- loaded{snap, err}
	}()

	select {
	case l := <-ch:
		if l.err != nil {
			return nil
		}
		return l.snap
	case <-c.clk.After(c.cfg.RehydrateTimeout):
		c.logger.Warn("session rehydration timed out, proceeding unauthenticated")
		return nil
	case <-ctx.Done():
		return nil
	}
}

// adopt reuses a persisted session subset with zero network calls. The access
// token is gone (it never persists), so the first authenticated request will
// go through a refresh.
func (c *Controller) adopt(snap *persist.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = snap.User
	c.sessionExpiresAt = snap.SessionExpiresAt
	if snap.Anonymous {
		c.state = StateAnonymous
	} else {
		c.state = StateVerified
	}
	c.lastErr = ""
	c.scheduleTimersLocked()
}

func (c *Controller) createAnonymous(ctx context.Context) error {
	gen := c.generation()
	result, err := c.api.CreateAnonymous(ctx)
	if err != nil {
		c.recordError(err)
		return err
	}

	userID, parseErr := uuid.Parse(result.UserID)
	if parseErr != nil {
		err := dErrors.Wrap(parseErr, dErrors.CodeInternal, "malformed user id")
		c.recordError(err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return nil
	}
	c.user = &models.User{ID: userID, Role: models.RoleAnonymous, CreatedAt: result.CreatedAt}
	c.sessionExpiresAt = result.SessionExpiresAt
	c.state = StateAnonymous
	c.lastErr = ""
	c.cell.Set(&custody.Tokens{
		AccessToken: result.Tokens.AccessToken,
		IDToken:     result.Tokens.IDToken,
		ExpiresIn:   result.Tokens.ExpiresIn,
	})
	c.persistLocked()
	c.scheduleTimersLocked()
	return nil
}

// EnsureSession guarantees an authenticated baseline: a fresh anonymous
// session when unauthenticated, and the evicted-to-unauthenticated step when a
// prior session lost the concurrency race.
func (c *Controller) EnsureSession(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	if state == StateEvicted {
		c.state = StateUnauthenticated
		state = StateUnauthenticated
	}
	c.mu.Unlock()

	if state == StateUnauthenticated {
		return c.createAnonymous(ctx)
	}
	return nil
}

// RequestMagicLink asks for a one-time login link and enters the pending
// state. The current anonymous session, if any, stays live underneath.
func (c *Controller) RequestMagicLink(ctx context.Context, email string) error {
	if err := c.api.RequestMagicLink(ctx, email); err != nil {
		c.recordError(err)
		return err
	}
	c.enterPending(StateMagicLinkPending, magicLinkPendingTTL)
	return nil
}

// VerifyMagicLink redeems a link token and, on success, promotes the session
// to verified.
func (c *Controller) VerifyMagicLink(ctx context.Context, token, sig string) error {
	gen := c.generation()
	result, err := c.api.VerifyMagicLink(ctx, token, sig)
	if err != nil {
		c.failPending(err)
		return err
	}
	c.applyAuth(gen, result)
	return nil
}

// BeginOAuth fetches the per-provider authorize URLs and enters the pending
// state while the user is away at the provider.
func (c *Controller) BeginOAuth(ctx context.Context) (*models.OAuthURLsResult, error) {
	urls, err := c.api.OAuthURLs(ctx)
	if err != nil {
		c.recordError(err)
		return nil, err
	}
	c.enterPending(StateOAuthPending, oauthPendingTTL)
	return urls, nil
}

// CompleteOAuth finishes the flow after the provider redirect.
func (c *Controller) CompleteOAuth(ctx context.Context, req models.OAuthCallbackRequest) error {
	gen := c.generation()
	result, err := c.api.OAuthCallback(ctx, req)
	if err != nil {
		c.failPending(err)
		return err
	}
	c.applyAuth(gen, result)
	return nil
}

// Refresh rotates the credentials. Concurrent callers share one in-flight
// exchange; a result that arrives after a sign-out or identity change is
// discarded.
func (c *Controller) Refresh(ctx context.Context) error {
	gen := c.generation()
	_, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		result, err := c.api.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		c.applyRefresh(gen, result)
		return nil, nil
	})
	if err != nil {
		c.handleRefreshError(err)
	}
	return err
}

func (c *Controller) applyRefresh(gen uint64, result *models.RefreshResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.cell.Set(&custody.Tokens{
		AccessToken: result.AccessToken,
		IDToken:     result.IDToken,
		ExpiresIn:   result.ExpiresIn,
	})
	c.sessionExpiresAt = result.SessionExpiresAt
	c.persistLocked()
	c.scheduleTimersLocked()
	c.metrics.TokenRefreshes.Inc()
}

func (c *Controller) handleRefreshError(err error) {
	if errors.Is(err, api.ErrSessionEvicted) {
		c.markEvicted(true)
		return
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeUnauthorized, dErrors.CodeInvalidToken:
		// Refresh token expired or revoked; the session is gone.
		c.resetLocal("session expired")
	default:
		c.recordError(err)
	}
}

// SignOut revokes the session. The remote call is best-effort: local state is
// cleared unconditionally so the user is never stuck signed in after choosing
// to leave.
func (c *Controller) SignOut(ctx context.Context) {
	c.mu.Lock()
	var userID string
	if c.user != nil {
		userID = c.user.ID.String()
	}
	was := c.state
	c.mu.Unlock()

	if err := c.api.SignOut(ctx); err != nil {
		c.logger.Warn("remote sign-out failed, clearing local state anyway", "error", err)
	}
	c.resetLocal("")
	c.metrics.SignOuts.Inc()

	if was == StateAnonymous || was == StateVerified {
		c.publish(broadcast.Event{Type: broadcast.EventSignedOut, UserID: userID})
	}
}

// PollTierUpgrade watches the profile until role reaches target, then updates
// local state and broadcasts the change. Cancel ctx to abort; the poller
// checks it before every wait.
func (c *Controller) PollTierUpgrade(ctx context.Context, p *poller.Poller, target models.Role) poller.Result {
	return p.Run(ctx, func(ctx context.Context) (bool, error) {
		c.metrics.PollAttempts.Inc()
		user, err := c.api.Profile(ctx)
		if err != nil {
			return false, err
		}
		if !user.Role.AtLeast(target) {
			return false, nil
		}
		c.applyRoleChange(user)
		return true, nil
	})
}

func (c *Controller) applyRoleChange(user *models.User) {
	c.mu.Lock()
	c.user = user
	c.persistLocked()
	c.mu.Unlock()
	c.publish(broadcast.Event{
		Type:   broadcast.EventRoleChanged,
		UserID: user.ID.String(),
		Role:   user.Role,
	})
}

// Close tears the controller down without touching server state.
func (c *Controller) Close() {
	c.mu.Lock()
	c.gen++
	c.stopTimersLocked()
	c.mu.Unlock()
	if c.busCancel != nil {
		c.busCancel()
	}
}

// --- internals ---

func (c *Controller) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Controller) applyAuth(gen uint64, result *models.AuthResult) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.user = result.User
	c.sessionExpiresAt = result.SessionExpiresAt
	c.state = StateVerified
	c.lastErr = ""
	c.cell.Set(&custody.Tokens{
		AccessToken: result.Tokens.AccessToken,
		IDToken:     result.Tokens.IDToken,
		ExpiresIn:   result.Tokens.ExpiresIn,
	})
	c.stopPendingLocked()
	c.persistLocked()
	c.scheduleTimersLocked()
	userID := c.user.ID.String()
	role := c.user.Role
	c.mu.Unlock()

	c.publish(broadcast.Event{Type: broadcast.EventSignedIn, UserID: userID, Role: role})
}

// enterPending moves into a pending flow state and arms the client-side
// mirror of the server-enforced expiry.
func (c *Controller) enterPending(state State, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	c.lastErr = ""
	c.stopPendingLocked()
	gen := c.gen
	c.pendingTimer = c.clk.AfterFunc(ttl, func() {
		c.expirePending(gen, state)
	})
}

func (c *Controller) expirePending(gen uint64, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != state {
		return
	}
	c.revertPendingLocked("link expired, request a new one")
}

// failPending maps a verification failure back to a stable state: the
// underlying anonymous session, when still live, or unauthenticated.
func (c *Controller) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = userMessage(err)
	if c.state == StateMagicLinkPending || c.state == StateOAuthPending {
		c.revertPendingLocked(c.lastErr)
	}
}

func (c *Controller) revertPendingLocked(msg string) {
	c.stopPendingLocked()
	c.lastErr = msg
	if c.user != nil && c.user.Role == models.RoleAnonymous && c.clk.Now().Before(c.sessionExpiresAt) {
		c.state = StateAnonymous
		return
	}
	c.state = StateUnauthenticated
}

func (c *Controller) recordError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = userMessage(err)
}

// resetLocal clears identity, credentials, timers, and the persisted
// snapshot, bumping the generation so in-flight results are discarded.
func (c *Controller) resetLocal(msg string) {
	c.mu.Lock()
	c.gen++
	c.stopTimersLocked()
	c.user = nil
	c.sessionExpiresAt = time.Time{}
	c.state = StateUnauthenticated
	c.lastErr = msg
	c.mu.Unlock()

	c.cell.Clear()
	if err := c.snapshots.Clear(context.Background()); err != nil {
		c.logger.Warn("failed to clear session snapshot", "error", err)
	}
}

func (c *Controller) markEvicted(broadcastIt bool) {
	c.mu.Lock()
	c.gen++
	c.stopTimersLocked()
	var userID string
	if c.user != nil {
		userID = c.user.ID.String()
	}
	c.state = StateEvicted
	c.lastErr = "signed out: session limit reached on another device"
	c.mu.Unlock()

	c.cell.Clear()
	if err := c.snapshots.Clear(context.Background()); err != nil {
		c.logger.Warn("failed to clear session snapshot", "error", err)
	}
	if broadcastIt {
		c.publish(broadcast.Event{Type: broadcast.EventSessionEvicted, UserID: userID})
	}
}

// scheduleTimersLocked arms the proactive refresh and the liveness check for
// the current session. Callers hold c.mu.
func (c *Controller) scheduleTimersLocked() {
	c.stopSessionTimersLocked()
	gen := c.gen

	wait := c.sessionExpiresAt.Add(-c.cfg.RefreshBuffer).Sub(c.clk.Now())
	if wait < 0 {
		wait = 0
	}
	c.refreshTimer = c.clk.AfterFunc(wait, func() {
		if c.generation() != gen {
			return
		}
		if err := c.Refresh(context.Background()); err != nil {
			c.logger.Warn("proactive refresh failed", "error", err)
		}
	})

	c.livenessTimer = c.clk.AfterFunc(c.cfg.LivenessInterval, func() {
		c.livenessTick(gen)
	})
}

// livenessTick forces a sign-out when expiry already passed, otherwise
// reschedules itself.
func (c *Controller) livenessTick(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	expired := !c.sessionExpiresAt.IsZero() && !c.clk.Now().Before(c.sessionExpiresAt)
	if !expired {
		c.livenessTimer = c.clk.AfterFunc(c.cfg.LivenessInterval, func() {
			c.livenessTick(gen)
		})
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.resetLocal("session expired")
}

func (c *Controller) stopTimersLocked() {
	c.stopSessionTimersLocked()
	c.stopPendingLocked()
}

func (c *Controller) stopSessionTimersLocked() {
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	if c.livenessTimer != nil {
		c.livenessTimer.Stop()
		c.livenessTimer = nil
	}
}

func (c *Controller) stopPendingLocked() {
	if c.pendingTimer != nil {
		c.pendingTimer.Stop()
		c.pendingTimer = nil
	}
}

func (c *Controller) persistLocked() {
	snap := &persist.Snapshot{
		Anonymous:        c.state == StateAnonymous,
		SessionExpiresAt: c.sessionExpiresAt,
		SavedAt:          c.clk.Now(),
	}
	if c.user != nil {
		cp := *c.user
		snap.User = &cp
	}
	if err := c.snapshots.Save(context.Background(), snap); err != nil {
		c.logger.Warn("failed to persist session snapshot", "error", err)
	}
}

func (c *Controller) publish(ev broadcast.Event) {
	ev.Origin = c.origin
	ev.At = c.clk.Now()
	if err := c.bus.Publish(context.Background(), ev); err != nil {
		c.logger.Warn("failed to broadcast auth event", "type", ev.Type, "error", err)
		return
	}
	c.metrics.EventsPublished.Inc()
}

// handleEvent applies auth changes observed from other surfaces. Own events
// are skipped via the origin id.
func (c *Controller) handleEvent(ev broadcast.Event) {
	if ev.Origin == c.origin {
		return
	}

	c.mu.Lock()
	sameUser := c.user != nil && c.user.ID.String() == ev.UserID
	c.mu.Unlock()
	if !sameUser {
		return
	}
	c.metrics.EventsApplied.Inc()

	switch ev.Type {
	case broadcast.EventSignedOut:
		c.resetLocal("signed out in another window")
	case broadcast.EventSessionEvicted:
		c.markEvicted(false)
	case broadcast.EventRoleChanged:
		c.mu.Lock()
		if c.user != nil {
			c.user.Role = ev.Role
			c.persistLocked()
		}
		c.mu.Unlock()
	}
}

// userMessage extracts the renderable message from a coded error.
func userMessage(err error) string {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "something went wrong, please try again"
}
