package server

import (
	"fmt"
	"time"
)

// Options holds every recognized server configuration value: one
// exported field per setting, defaults applied by NewOptions, validated
// by validateOptions before the event loop starts.
type Options struct {
	Port    int
	Backlog int

	TimeoutMs       int
	SelectTimeoutMs int
	RecvBufferSize  int

	NoDelay   bool
	ReuseAddr bool

	MaxConnections         int
	MaxChannels            int
	MaxRouteParams         int
	MaxMiddlewarePerRouter int
	MaxRouteMiddleware     int
	MaxTotalMiddleware     int

	// BasicAuthUsers maps username to a bcrypt password hash; see auth.go.
	// The server does not read BasicAuthUsers or AuthRealm itself: they
	// take effect when passed to RequireBasicAuth.
	BasicAuthUsers map[string]string
	AuthRealm      string

	// AcceptBacklogRate/AcceptBacklogBurst bound accept() throughput via
	// a token bucket, protecting the fixed connection pool from a burst
	// of incoming connections.
	AcceptBacklogRate float64
	AcceptBacklogBurst int

	StrictSlash bool
	CaseInsensitiveRoutes bool

	Logger Logger
}

const (
	defaultPort            = 80
	defaultBacklog         = 5
	defaultTimeoutMs       = 30000
	defaultSelectTimeoutMs = 1000
	defaultRecvBufferSize  = 1024

	// MaxSlots is the hard ceiling on simultaneous connections: the pool's
	// three bitmasks must each fit in one uint32.
	MaxSlots = 32

	defaultMaxChannels               = 32
	defaultMaxRouteParams            = 8
	defaultMaxMiddlewarePerRouter    = 8
	defaultMaxRouteMiddleware        = 4
	defaultMaxTotalMiddleware        = 16
	defaultAcceptBacklogRate         = 200
	defaultAcceptBacklogBurst        = 50
)

// NewOptions returns an Options populated with production-ready defaults.
func NewOptions() *Options {
	return &Options{
		Port:                   defaultPort,
		Backlog:                defaultBacklog,
		TimeoutMs:              defaultTimeoutMs,
		SelectTimeoutMs:        defaultSelectTimeoutMs,
		RecvBufferSize:         defaultRecvBufferSize,
		NoDelay:                true,
		ReuseAddr:              true,
		MaxConnections:         MaxSlots,
		MaxChannels:            defaultMaxChannels,
		MaxRouteParams:         defaultMaxRouteParams,
		MaxMiddlewarePerRouter: defaultMaxMiddlewarePerRouter,
		MaxRouteMiddleware:     defaultMaxRouteMiddleware,
		MaxTotalMiddleware:     defaultMaxTotalMiddleware,
		AcceptBacklogRate:      defaultAcceptBacklogRate,
		AcceptBacklogBurst:     defaultAcceptBacklogBurst,
		AuthRealm:              "emberd",
		Logger:                 NewStdLogger(false, false),
	}
}

func (o *Options) timeout() time.Duration {
	return time.Duration(o.TimeoutMs) * time.Millisecond
}

func (o *Options) selectTimeout() time.Duration {
	return time.Duration(o.SelectTimeoutMs) * time.Millisecond
}

// validateOptions runs one explicit check per field that can't be
// silently clamped to a safe default.
func validateOptions(o *Options) error {
	if o.MaxConnections <= 0 || o.MaxConnections > MaxSlots {
		return fmt.Errorf("max_connections must be in (0, %d], got %d", MaxSlots, o.MaxConnections)
	}
	if o.MaxChannels <= 0 || o.MaxChannels > MaxSlots {
		return fmt.Errorf("max_channels must be in (0, %d], got %d", MaxSlots, o.MaxChannels)
	}
	if o.MaxRouteParams <= 0 {
		return fmt.Errorf("max_route_params must be positive")
	}
	if o.MaxMiddlewarePerRouter < 0 {
		return fmt.Errorf("max_middleware_per_router must not be negative")
	}
	if o.MaxRouteMiddleware < 0 {
		return fmt.Errorf("max_route_middleware must not be negative")
	}
	if o.MaxTotalMiddleware < 0 {
		return fmt.Errorf("max_total_middleware must not be negative")
	}
	if o.RecvBufferSize <= 0 {
		return fmt.Errorf("recv_buffer_size must be positive")
	}
	if o.Port < 0 || o.Port > 65535 {
		return fmt.Errorf("port out of range: %d", o.Port)
	}
	if o.Logger == nil {
		o.Logger = NewStdLogger(false, false)
	}
	return nil
}
