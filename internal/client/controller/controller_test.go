package controller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"beacon/internal/client/api"
	"beacon/internal/client/broadcast"
	"beacon/internal/client/custody"
	"beacon/internal/client/persist"
	"beacon/internal/client/poller"
	"beacon/internal/client/transport"
	"beacon/internal/clock"
	"beacon/internal/identity/handler"
	"beacon/internal/identity/mailer"
	"beacon/internal/identity/models"
	"beacon/internal/identity/service"
	"beacon/internal/identity/store/magiclink"
	"beacon/internal/identity/store/oauthstate"
	"beacon/internal/identity/store/refreshtoken"
	"beacon/internal/identity/store/session"
	"beacon/internal/identity/store/user"
	"beacon/internal/identity/token"
	"beacon/internal/platform/logger"
	"beacon/internal/platform/metrics"
	"beacon/pkg/platform/sentinel"
)

// tab bundles one controller with its private custody cell and snapshot
// store, the way one browser surface would hold them.
type tab struct {
	ctrl      *Controller
	cell      *custody.Cell
	snapshots *persist.MemoryStore
}

type ControllerSuite struct {
	suite.Suite
	clk      *clock.Fake
	mail     *mailer.Capture
	sessions *session.InMemorySessionStore
	refresh  *refreshtoken.InMemoryRefreshTokenStore
	svc      *service.Service
	server   *httptest.Server
	bus      *broadcast.MemoryBus

	requests atomic.Int64

	// gateVerify, when set, blocks magic-link verify requests server-side
	// until verifyGate is closed; verifyArrived signals the request landed.
	gateVerify    atomic.Bool
	verifyGate    chan struct{}
	verifyArrived chan struct{}
}

func (s *ControllerSuite) SetupTest() {
	// Access tokens are validated against wall-clock expiry, so the fake
	// clock starts at the present rather than a fixed date.
	s.clk = clock.NewFake(time.Now().UTC())
	s.mail = mailer.NewCapture()
	s.sessions = session.New()
	s.refresh = refreshtoken.New()
	s.bus = broadcast.NewMemoryBus()
	s.requests.Store(0)
	s.gateVerify.Store(false)
	s.verifyGate = make(chan struct{})
	s.verifyArrived = make(chan struct{}, 1)

	tokens := token.NewManager("test-key", 15*time.Minute)
	log := logger.Discard()

	s.svc = service.New(
		service.Config{
			SessionTTL:           24 * time.Hour,
			RefreshTokenTTL:      30 * 24 * time.Hour,
			MagicLinkTTL:         time.Hour,
			OAuthStateTTL:        5 * time.Minute,
			MaxSessionsPerUser:   3,
			MagicLinkRatePerHour: 5,
			VerifyBaseURL:        "https://app.example.com",
		},
		service.Stores{
			Users:         user.New(),
			MagicLinks:    magiclink.New(),
			OAuthStates:   oauthstate.New(),
			RefreshTokens: s.refresh,
			Sessions:      s.sessions,
		},
		tokens,
		nil, // no OAuth providers needed here
		s.mail,
		log,
		metrics.New(prometheus.NewRegistry()),
		s.clk,
	)

	h := handler.New(s.svc, tokens, 30*24*time.Hour, log, metrics.New(prometheus.NewRegistry()))
	routes := h.Routes()
	s.server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		if s.gateVerify.Load() && strings.HasPrefix(r.URL.Path, "/auth/magic-link/verify/") {
			s.verifyArrived <- struct{}{}
			<-s.verifyGate
		}
		routes.ServeHTTP(w, r)
	}))
}

func (s *ControllerSuite) TearDownTest() {
	s.server.Close()
}

func (s *ControllerSuite) config() Config {
	return Config{
		RefreshBuffer:    5 * time.Minute,
		LivenessInterval: 30 * time.Minute,
		RehydrateTimeout: 10 * time.Second,
	}
}

func (s *ControllerSuite) newTab() *tab {
	return s.newTabWith(persist.NewMemoryStore())
}

func (s *ControllerSuite) newTabWith(snapshots *persist.MemoryStore) *tab {
	cell := custody.NewCell()
	d, err := transport.NewDecorator(s.server.Client().Transport, cell, s.server.URL)
	s.Require().NoError(err)
	apiClient := api.New(s.server.URL, d.Client())

	ctrl := New(
		s.config(),
		logger.Discard(),
		s.clk,
		apiClient,
		cell,
		snapshots,
		s.bus,
		metrics.NewClient(prometheus.NewRegistry()),
	)
	return &tab{ctrl: ctrl, cell: cell, snapshots: snapshots}
}

// start boots a tab and asserts the anonymous baseline.
func (s *ControllerSuite) start(tb *tab) Snapshot {
	s.Require().NoError(tb.ctrl.Start(context.Background()))
	snap := tb.ctrl.Session()
	s.Require().Equal(StateAnonymous, snap.State)
	return snap
}

// signIn walks a tab through the magic-link flow for the given address.
func (s *ControllerSuite) signIn(tb *tab, email string) Snapshot {
	ctx := context.Background()
	s.Require().NoError(tb.ctrl.RequestMagicLink(ctx, email))
	link := s.mail.Last(email)
	s.Require().NotEmpty(link)
	tok := strings.TrimPrefix(link, "https://app.example.com/auth/magic-link/verify/")
	s.Require().NoError(tb.ctrl.VerifyMagicLink(ctx, tok, ""))
	snap := tb.ctrl.Session()
	s.Require().Equal(StateVerified, snap.State)
	return snap
}

func (s *ControllerSuite) TestStartCreatesAnonymousSession() {
	tb := s.newTab()
	defer tb.ctrl.Close()
	snap := s.start(tb)

	s.Require().NotNil(snap.User)
	s.Equal(models.RoleAnonymous, snap.User.Role)
	s.True(snap.SessionExpiresAt.Equal(s.clk.Now().Add(24 * time.Hour)))
	s.NotEmpty(tb.cell.AccessToken())

	s.Run("snapshot persisted without tokens", func() {
		saved, err := tb.snapshots.Load(context.Background())
		s.Require().NoError(err)
		s.True(saved.Anonymous)
		s.Equal(snap.User.ID, saved.User.ID)
	})
}

func (s *ControllerSuite) TestMagicLinkFlow() {
	tb := s.newTab()
	defer tb.ctrl.Close()
	s.start(tb)
	anonToken := tb.cell.AccessToken()

	s.Require().NoError(tb.ctrl.RequestMagicLink(context.Background(), "flow@example.com"))
	s.Equal(StateMagicLinkPending, tb.ctrl.Session().State)

	snap := s.signIn(tb, "flow@example.com")
	s.Equal("flow@example.com", snap.User.PrimaryEmail)
	s.Equal(models.RoleFree, snap.User.Role)
	s.NotEqual(anonToken, tb.cell.AccessToken(), "credentials rotated on upgrade")

	saved, err := tb.snapshots.Load(context.Background())
	s.Require().NoError(err)
	s.False(saved.Anonymous)
}

func (s *ControllerSuite) TestPendingLinkExpiryRevertsToAnonymous() {
	tb := s.newTab()
	defer tb.ctrl.Close()
	s.start(tb)

	s.Require().NoError(tb.ctrl.RequestMagicLink(context.Background(), "slow@example.com"))
	s.Equal(StateMagicLinkPending, tb.ctrl.Session().State)

	s.clk.Advance(time.Hour)

	snap := tb.ctrl.Session()
	s.Equal(StateAnonymous, snap.State, "the anonymous session underneath survives")
	s.Equal("link expired, request a new one", snap.LastError)
}

func (s *ControllerSuite) TestVerifyFailureRevertsWithMessage() {
	tb := s.newTab()
	defer tb.ctrl.Close()
	s.start(tb)

	s.Require().NoError(tb.ctrl.RequestMagicLink(context.Background(), "typo@example.com"))
	err := tb.ctrl.VerifyMagicLink(context.Background(), "not-a-real-token", "")
	s.Require().Error(err)

	snap := tb.ctrl.Session()
	s.Equal(StateAnonymous, snap.State)
	s.Equal("invalid or expired link", snap.LastError)
}

func (s *ControllerSuite) TestProactiveRefreshRotatesCredentials() {
	tb := s.newTab()
	defer tb.ctrl.Close()
	snap := s.start(tb)
	before := tb.cell.AccessToken()
	expiresBefore := snap.SessionExpiresAt

	// The refresh timer is armed at expiry minus the buffer.
	s.clk.Advance(24*time.Hour - 5*time.Minute)

	after := tb.ctrl.Session()
	s.Equal(StateAnonymous, after.State)
	s.True(after.SessionExpiresAt.After(expiresBefore), "session lifetime extended")
	s.NotEqual(before, tb.cell.AccessToken())
}

func (s *ControllerSuite) TestSignOutClearsEverything() {
	tb := s.newTab()
	defer tb.ctrl.Close()
	s.start(tb)
	pendingBefore := s.clk.PendingTimers()

	tb.ctrl.SignOut(context.Background())

	snap := tb.ctrl.Session()
	s.Equal(StateUnauthenticated, snap.State)
	s.Nil(snap.User)
	s.Empty(tb.cell.AccessToken())

	_, err := tb.snapshots.Load(context.Background())
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Run("session timers cancelled", func() {
		s.Equal(pendingBefore-2, s.clk.PendingTimers())

		// Nothing fires later: no network traffic after the advance.
		served := s.requests.Load()
		s.clk.Advance(48 * time.Hour)
		s.Equal(served, s.requests.Load())
	})
}

func (s *ControllerSuite) TestEvictedRefreshEntersEvictedState() {
	tb := s.newTab()
	defer tb.ctrl.Close()
	snap := s.start(tb)

	// Another device wins the concurrency race for this user.
	recs, err := s.sessions.ListActiveByUser(context.Background(), snap.User.ID)
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	s.Require().NoError(s.sessions.SetStatus(context.Background(), recs[0].ID, models.SessionStatusEvicted))

	var observed []broadcast.Event
	cancel := s.bus.Subscribe(func(ev broadcast.Event) { observed = append(observed, ev) })
	defer cancel()

	err = tb.ctrl.Refresh(context.Background())
	s.Require().ErrorIs(err, api.ErrSessionEvicted)

	got := tb.ctrl.Session()
	s.Equal(StateEvicted, got.State)
	s.NotEmpty(got.LastError)
	s.Empty(tb.cell.AccessToken())

	s.Require().Len(observed, 1)
	s.Equal(broadcast.EventSessionEvicted, observed[0].Type)
	s.Equal(snap.User.ID.String(), observed[0].UserID)

	s.Run("EnsureSession recovers to a fresh anonymous session", func() {
		s.Require().NoError(tb.ctrl.EnsureSession(context.Background()))
		recovered := tb.ctrl.Session()
		s.Equal(StateAnonymous, recovered.State)
		s.NotEqual(snap.User.ID, recovered.User.ID)
		s.NotEmpty(tb.cell.AccessToken())
	})
}

func (s *ControllerSuite) TestRevokedRefreshResetsLocalState() {
	tb := s.newTab()
	defer tb.ctrl.Close()
	snap := s.start(tb)

	// Drop the refresh token server-side; the next refresh is a plain
	// rejection, not an eviction.
	recs, err := s.sessions.ListActiveByUser(context.Background(), snap.User.ID)
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	s.Require().NoError(s.refresh.DeleteBySessionID(context.Background(), recs[0].ID))

	err = tb.ctrl.Refresh(context.Background())
	s.Require().Error(err)
	s.NotErrorIs(err, api.ErrSessionEvicted)

	got := tb.ctrl.Session()
	s.Equal(StateUnauthenticated, got.State)
	s.Equal("session expired", got.LastError)
	s.Empty(tb.cell.AccessToken())
}

func (s *ControllerSuite) TestLivenessForcesExpiry() {
	tb := s.newTab()
	defer tb.ctrl.Close()
	s.start(tb)

	// Take the service away so the proactive refresh cannot extend the
	// session; the liveness check then notices the passed expiry.
	s.server.Close()

	s.clk.Advance(24*time.Hour + time.Minute)

	snap := tb.ctrl.Session()
	s.Equal(StateUnauthenticated, snap.State)
	s.Equal("session expired", snap.LastError)
	s.Empty(tb.cell.AccessToken())
}

func (s *ControllerSuite) TestRehydrationAdoptsSnapshotWithoutNetwork() {
	first := s.newTab()
	s.start(first)
	verified := s.signIn(first, "adopt@example.com")
	first.ctrl.Close()

	served := s.requests.Load()
	second := s.newTabWith(first.snapshots)
	defer second.ctrl.Close()
	s.Require().NoError(second.ctrl.Start(context.Background()))

	snap := second.ctrl.Session()
	s.Equal(StateVerified, snap.State)
	s.Equal(verified.User.ID, snap.User.ID)
	s.Equal("adopt@example.com", snap.User.PrimaryEmail)
	s.Equal(served, s.requests.Load(), "adoption makes no network calls")

	// No access token yet: the first authenticated request goes through a
	// refresh, which the armed timer will also do proactively.
	s.Empty(second.cell.AccessToken())
}

func (s *ControllerSuite) TestExpiredSnapshotFallsBackToAnonymous() {
	snapshots := persist.NewMemoryStore()
	stale := &persist.Snapshot{
		User:             &models.User{ID: uuid.New(), Role: models.RoleFree},
		SessionExpiresAt: s.clk.Now().Add(-time.Minute),
		SavedAt:          s.clk.Now().Add(-25 * time.Hour),
	}
	s.Require().NoError(snapshots.Save(context.Background(), stale))

	tb := s.newTabWith(snapshots)
	defer tb.ctrl.Close()
	s.Require().NoError(tb.ctrl.Start(context.Background()))

	snap := tb.ctrl.Session()
	s.Equal(StateAnonymous, snap.State)
	s.NotEqual(stale.User.ID, snap.User.ID)
}

func (s *ControllerSuite) TestRehydrationTimeoutDegradesToAnonymous() {
	snapshots := persist.NewMemoryStore()
	snapshots.LoadDelay = time.Minute // far beyond the rehydrate budget

	tb := s.newTabWith(snapshots)
	defer tb.ctrl.Close()

	timersBefore := s.clk.PendingTimers()
	done := make(chan error, 1)
	go func() {
		done <- tb.ctrl.Start(context.Background())
	}()

	// Wait for Start to park on the rehydrate bound, then blow past it.
	for s.clk.PendingTimers() == timersBefore {
		time.Sleep(time.Millisecond)
	}
	s.clk.Advance(s.config().RehydrateTimeout)

	s.Require().NoError(<-done)
	s.Equal(StateAnonymous, tb.ctrl.Session().State)
}

func (s *ControllerSuite) TestStaleVerifyResultDiscardedAfterSignOut() {
	tb := s.newTab()
	defer tb.ctrl.Close()
	s.start(tb)

	s.Require().NoError(tb.ctrl.RequestMagicLink(context.Background(), "race@example.com"))
	link := s.mail.Last("race@example.com")
	tok := strings.TrimPrefix(link, "https://app.example.com/auth/magic-link/verify/")

	s.gateVerify.Store(true)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// The response is held back until after the sign-out below.
		_ = tb.ctrl.VerifyMagicLink(context.Background(), tok, "")
	}()

	<-s.verifyArrived
	tb.ctrl.SignOut(context.Background())
	close(s.verifyGate)
	wg.Wait()

	snap := tb.ctrl.Session()
	s.Equal(StateUnauthenticated, snap.State, "result from the old identity is discarded")
	s.Nil(snap.User)
	s.Empty(tb.cell.AccessToken())
}

func (s *ControllerSuite) TestCrossTabSignOut() {
	active := s.newTab()
	defer active.ctrl.Close()
	s.start(active)
	s.signIn(active, "tabs@example.com")

	// Second surface adopts the same identity from the shared snapshot.
	passive := s.newTabWith(active.snapshots)
	defer passive.ctrl.Close()
	s.Require().NoError(passive.ctrl.Start(context.Background()))
	s.Require().Equal(StateVerified, passive.ctrl.Session().State)

	active.ctrl.SignOut(context.Background())

	snap := passive.ctrl.Session()
	s.Equal(StateUnauthenticated, snap.State)
	s.Equal("signed out in another window", snap.LastError)
	s.Empty(passive.cell.AccessToken())
}

func (s *ControllerSuite) TestCrossTabRoleChange() {
	tb := s.newTab()
	defer tb.ctrl.Close()
	s.start(tb)
	verified := s.signIn(tb, "role@example.com")

	s.Require().NoError(s.bus.Publish(context.Background(), broadcast.Event{
		Type:   broadcast.EventRoleChanged,
		Origin: "another-surface",
		UserID: verified.User.ID.String(),
		Role:   models.RolePaid,
		At:     s.clk.Now(),
	}))

	snap := tb.ctrl.Session()
	s.Equal(models.RolePaid, snap.User.Role)

	s.Run("other users' events are ignored", func() {
		s.Require().NoError(s.bus.Publish(context.Background(), broadcast.Event{
			Type:   broadcast.EventSignedOut,
			Origin: "another-surface",
			UserID: uuid.NewString(),
			At:     s.clk.Now(),
		}))
		s.Equal(StateVerified, tb.ctrl.Session().State)
	})
}

func (s *ControllerSuite) TestPollTierUpgrade() {
	tb := s.newTab()
	defer tb.ctrl.Close()
	s.start(tb)
	verified := s.signIn(tb, "upgrade@example.com")

	// The "payment webhook" has already landed when the poll starts, so the
	// first check sees the new tier.
	_, err := s.svc.SetRole(context.Background(), verified.User.ID, models.RolePaid, false)
	s.Require().NoError(err)

	var observed []broadcast.Event
	cancel := s.bus.Subscribe(func(ev broadcast.Event) { observed = append(observed, ev) })
	defer cancel()

	res := tb.ctrl.PollTierUpgrade(context.Background(), poller.New(s.clk), models.RolePaid)
	s.True(res.Success)
	s.Equal(1, res.Attempts)
	s.Equal(models.RolePaid, tb.ctrl.Session().User.Role)

	s.Require().Len(observed, 1)
	s.Equal(broadcast.EventRoleChanged, observed[0].Type)
	s.Equal(models.RolePaid, observed[0].Role)
}

func (s *ControllerSuite) TestPollTierUpgradeTimesOut() {
	tb := s.newTab()
	defer tb.ctrl.Close()
	s.start(tb)
	s.signIn(tb, "patient@example.com")

	p := poller.New(s.clk)
	p.Intervals = []time.Duration{time.Second}

	results := make(chan poller.Result, 1)
	timersBefore := s.clk.PendingTimers()
	go func() {
		results <- tb.ctrl.PollTierUpgrade(context.Background(), p, models.RolePaid)
	}()

	// Wait for the poller to park on its backoff wait, then release it.
	for s.clk.PendingTimers() == timersBefore {
		time.Sleep(time.Millisecond)
	}
	s.clk.Advance(time.Second)

	res := <-results
	s.True(res.TimedOut)
	s.Equal(2, res.Attempts)
	s.Equal(StateVerified, tb.ctrl.Session().State, "a timed-out poll changes nothing")
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}
