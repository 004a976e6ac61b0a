package conn

import (
	"time"

	"go.uber.org/zap"

	"github.com/five82/kiosk/internal/clock"
	"github.com/five82/kiosk/internal/guard"
)

// Defaults for Options fields left zero.
const (
	DefaultGracePeriod          = 5 * time.Second
	DefaultZombieNudgeAfter     = 10 * time.Second
	DefaultZombieReconnectAfter = 15 * time.Second
	DefaultHealthMaxAge         = 30 * time.Second
	DefaultInitialTrust         = 5 * time.Second
	DefaultLoadingTimeout       = 15 * time.Second
	DefaultStateRequestEvent    = "getState"
)

// DefaultLoadingEvents are the requests that raise the Loading signal while
// they await an ack.
var DefaultLoadingEvents = []string{
	"browseLibrary",
	"search",
	"getPlaylists",
	"getPlaylistContent",
	"createPlaylist",
	"deletePlaylist",
	"addToPlaylist",
	"removeFromPlaylist",
	"getFavorites",
	"addToFavorites",
	"removeFromFavorites",
}

// Options configures a Manager. Only Dialer is required.
type Options struct {
	Host   string
	Dialer Dialer

	Clock    clock.Clock
	Logger   *zap.Logger
	Registry *guard.Registry

	GracePeriod          time.Duration
	ZombieNudgeAfter     time.Duration
	ZombieReconnectAfter time.Duration
	HealthMaxAge         time.Duration
	InitialTrust         time.Duration
	LoadingTimeout       time.Duration

	StateRequestEvent string
	LoadingEvents     []string
	// Pairings maps request events to response events for latency samples.
	// Nil uses latency.DefaultPairings.
	Pairings map[string]string
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Registry == nil {
		o.Registry = guard.Default
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.ZombieNudgeAfter <= 0 {
		o.ZombieNudgeAfter = DefaultZombieNudgeAfter
	}
	if o.ZombieReconnectAfter <= 0 {
		o.ZombieReconnectAfter = DefaultZombieReconnectAfter
	}
	if o.HealthMaxAge <= 0 {
		o.HealthMaxAge = DefaultHealthMaxAge
	}
	if o.InitialTrust <= 0 {
		o.InitialTrust = DefaultInitialTrust
	}
	if o.LoadingTimeout <= 0 {
		o.LoadingTimeout = DefaultLoadingTimeout
	}
	if o.StateRequestEvent == "" {
		o.StateRequestEvent = DefaultStateRequestEvent
	}
	if o.LoadingEvents == nil {
		o.LoadingEvents = DefaultLoadingEvents
	}
	return o
}
