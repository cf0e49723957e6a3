package siit

import (
	"context"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/xlat64/xlat64/internal/config"
	"github.com/xlat64/xlat64/internal/control"
	"github.com/xlat64/xlat64/internal/control/wire"
	"github.com/xlat64/xlat64/internal/eamt"
	"github.com/xlat64/xlat64/internal/hairpin"
	"github.com/xlat64/xlat64/internal/netres"
	"github.com/xlat64/xlat64/internal/pipeline"
	"github.com/xlat64/xlat64/internal/pool4"
	"github.com/xlat64/xlat64/internal/pool6"
)

// Module is a control-plane component responsible for one SIIT instance:
// the stateless translation tables plus the per-packet processor an
// external network hook calls into.
type Module struct {
	cfg *Config
	log *zap.SugaredLogger

	config    *config.Store
	pool6     *pool6.Pool
	eamt      *eamt.Table
	pool4     *pool4.SIITPool
	blacklist *pool4.Blacklist
	rfc6791   *pool4.RFC6791Pool

	Processor  *pipeline.SIITProcessor
	Dispatcher *control.Dispatcher
}

// NewModule builds a SIIT module from cfg, resolving this host's own
// primary IPv4 address (the RFC 6791 pool-empty fallback) with retries
// since the network stack may not be up yet at process start.
func NewModule(cfg *Config, log *zap.SugaredLogger) (*Module, error) {
	log = log.With(zap.String("module", "siit"))

	resolver, err := resolveWithBackoff(cfg.HostResolveTimeout, log)
	if err != nil {
		log.Warnw("starting without a confirmed host address; rfc6791 fallback will fail until the pool is populated", zap.Error(err))
	}

	m := &Module{
		cfg:       cfg,
		log:       log,
		config:    config.NewStore(config.Default()),
		pool6:     pool6.New(),
		eamt:      eamt.New(),
		pool4:     pool4.NewSIITPool(),
		blacklist: pool4.NewBlacklist(),
		rfc6791:   pool4.NewRFC6791Pool(resolver),
	}

	hairpinScope := hairpin.ScopeFunc(func(ip netip.Addr) bool {
		if _, err := m.eamt.GetIPv6ByIPv4(ip); err == nil {
			return true
		}
		_, ok := m.pool6.Find(ip)
		return ok
	})

	m.Processor = pipeline.NewSIIT(pipeline.SIITTables{
		Config:       m.config,
		Pool6:        m.pool6,
		EAMT:         m.eamt,
		Pool4:        m.pool4,
		Blacklist:    m.blacklist,
		RFC6791:      m.rfc6791,
		HairpinScope: hairpinScope,
		Log:          log,
	})

	m.Dispatcher = control.New(control.Tables{
		Build:     wire.BuildSIIT,
		Config:    m.config,
		Pool6:     m.pool6,
		Pool4SIIT: m.pool4,
		Blacklist: m.blacklist,
		RFC6791:   m.rfc6791.Set,
		EAMT:      m.eamt,
	}, log.Desugar())

	return m, nil
}

// resolveWithBackoff attempts netres.LinkResolver.PrimaryAddress with
// exponential backoff for up to timeout, following the retry shape of a
// bird-adapter reconnection loop.
func resolveWithBackoff(timeout time.Duration, log *zap.SugaredLogger) (pool4.HostAddressResolver, error) {
	resolver := netres.LinkResolver{}

	b := backoff.ExponentialBackOff{
		InitialInterval:     200 * time.Millisecond,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         2 * time.Second,
	}
	b.Reset()

	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if _, err := resolver.PrimaryAddress(); err == nil {
			return resolver, nil
		} else {
			lastErr = err
		}
		log.Debugw("retrying host address resolution", zap.Error(lastErr))
		time.Sleep(b.NextBackOff())
	}
	return resolver, lastErr
}

// Run blocks until ctx is canceled. SIIT is stateless (spec §2), so there
// is no session/fragment table to sweep; the module's only ongoing
// lifecycle obligation is to shut down cleanly.
func (m *Module) Run(ctx context.Context) error {
	m.log.Infow("starting siit module")
	defer m.log.Infow("stopped siit module")
	<-ctx.Done()
	return ctx.Err()
}
