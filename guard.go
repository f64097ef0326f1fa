package apiclient

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultLogoutCooldown = 2 * time.Second
	defaultOfflineDelay   = 50 * time.Millisecond
	defaultOfflineRoute   = "/offline"
)

// Navigator moves the host application to another route.
type Navigator interface {
	Navigate(route string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(route string)

// Navigate calls f(route).
func (f NavigatorFunc) Navigate(route string) { f(route) }

// SessionGuard deduplicates the two global side effects of a failure storm:
// forced logout after a 401 and the redirect to the offline route after the
// backend becomes unreachable.
//
// Logout fires at most once per cooldown window. The offline redirect fires
// at most once until ResetNavigation is called.
type SessionGuard struct {
	mu         sync.Mutex
	logout     func()
	navigator  Navigator
	logoutAt   time.Time
	loggingOut bool

	offline atomic.Bool

	cooldown     time.Duration
	offlineDelay time.Duration
	offlineRoute string
	now          func() time.Time
	logger       *zap.Logger

	wg sync.WaitGroup
}

// GuardOption configures a SessionGuard.
type GuardOption func(*SessionGuard)

// WithLogoutCooldown sets how long after firing the logout flag stays set.
func WithLogoutCooldown(d time.Duration) GuardOption {
	return func(g *SessionGuard) { g.cooldown = d }
}

// WithOfflineDelay sets the settle delay before the offline redirect.
func WithOfflineDelay(d time.Duration) GuardOption {
	return func(g *SessionGuard) { g.offlineDelay = d }
}

// WithOfflineRoute sets the route used for the offline redirect.
func WithOfflineRoute(route string) GuardOption {
	return func(g *SessionGuard) { g.offlineRoute = route }
}

// WithNavigator sets the navigation primitive.
func WithNavigator(n Navigator) GuardOption {
	return func(g *SessionGuard) { g.navigator = n }
}

// WithGuardLogger sets the guard's logger.
func WithGuardLogger(l *zap.Logger) GuardOption {
	return func(g *SessionGuard) { g.logger = l }
}

// NewSessionGuard creates a guard with the 2s logout cooldown and the 50ms
// offline settle delay.
func NewSessionGuard(opts ...GuardOption) *SessionGuard {
	g := &SessionGuard{
		cooldown:     defaultLogoutCooldown,
		offlineDelay: defaultOfflineDelay,
		offlineRoute: defaultOfflineRoute,
		now:          time.Now,
		logger:       zap.NewNop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

var defaultGuard = NewSessionGuard()

// DefaultGuard returns the process-wide guard used by clients built without
// WithGuard.
func DefaultGuard() *SessionGuard { return defaultGuard }

// RegisterLogoutHandler installs the logout action on the process-wide guard.
func RegisterLogoutHandler(fn func()) { defaultGuard.RegisterLogoutHandler(fn) }

// RegisterLogoutHandler installs fn as the logout action, replacing any
// previous handler.
func (g *SessionGuard) RegisterLogoutHandler(fn func()) {
	g.mu.Lock()
	g.logout = fn
	g.mu.Unlock()
}

// SetNavigator replaces the navigation primitive.
func (g *SessionGuard) SetNavigator(n Navigator) {
	g.mu.Lock()
	g.navigator = n
	g.mu.Unlock()
}

// TripLogout fires the logout handler unless it already fired within the
// cooldown window. It reports whether this call triggered the handler.
// The handler runs on its own goroutine.
func (g *SessionGuard) TripLogout() bool {
	g.mu.Lock()
	now := g.now()
	if g.loggingOut && now.Sub(g.logoutAt) < g.cooldown {
		g.mu.Unlock()
		return false
	}
	g.loggingOut = true
	g.logoutAt = now
	fn := g.logout
	g.mu.Unlock()

	if fn == nil {
		g.logger.Warn("session expired but no logout handler is registered")
		return true
	}

	g.logger.Info("session expired, forcing logout")
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
	return true
}

// TripOffline schedules the redirect to the offline route unless one is
// already pending or done. It reports whether this call scheduled it.
func (g *SessionGuard) TripOffline() bool {
	if !g.offline.CompareAndSwap(false, true) {
		return false
	}

	g.mu.Lock()
	nav := g.navigator
	route := g.offlineRoute
	delay := g.offlineDelay
	g.mu.Unlock()

	g.logger.Info("backend unreachable, redirecting", zap.String("route", route))
	if nav == nil {
		return true
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if delay > 0 {
			time.Sleep(delay)
		}
		nav.Navigate(route)
	}()
	return true
}

// LoggingOut reports whether a logout is inside its cooldown window.
func (g *SessionGuard) LoggingOut() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loggingOut && g.now().Sub(g.logoutAt) < g.cooldown
}

// Offline reports whether the offline redirect has been triggered.
func (g *SessionGuard) Offline() bool { return g.offline.Load() }

// ResetNavigation clears both flags, as a full page navigation would.
func (g *SessionGuard) ResetNavigation() {
	g.mu.Lock()
	g.loggingOut = false
	g.logoutAt = time.Time{}
	g.mu.Unlock()
	g.offline.Store(false)
}

// Wait blocks until every detached logout and redirect has finished.
func (g *SessionGuard) Wait() { g.wg.Wait() }
