package nat64

import (
	"context"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/xlat64/xlat64/internal/bib"
	"github.com/xlat64/xlat64/internal/config"
	"github.com/xlat64/xlat64/internal/control"
	"github.com/xlat64/xlat64/internal/control/wire"
	"github.com/xlat64/xlat64/internal/fragdb"
	"github.com/xlat64/xlat64/internal/hairpin"
	"github.com/xlat64/xlat64/internal/pipeline"
	"github.com/xlat64/xlat64/internal/pool4"
	"github.com/xlat64/xlat64/internal/pool6"
	"github.com/xlat64/xlat64/internal/session"
)

// Module is a control-plane component responsible for one NAT64 instance:
// it owns the stateful tables, the per-packet processor an external
// network hook calls into, and the control-plane dispatcher an external
// transport routes wire requests through (spec §1 "out of scope: the OS
// network hook registration, the control-plane request transport").
type Module struct {
	cfg *Config
	log *zap.SugaredLogger

	config  *config.Store
	pool6   *pool6.Pool
	pool4   *pool4.NAT64Pool
	bib     *bib.DB
	session *session.DB
	fragDB  *fragdb.DB

	Processor  *pipeline.NAT64Processor
	Dispatcher *control.Dispatcher
}

// NewModule builds a NAT64 module from cfg. The hairpin scope is left to
// the caller to attach (it needs the pool4 prefixes this module owns,
// which are populated later over the control plane).
func NewModule(cfg *Config, log *zap.SugaredLogger) (*Module, error) {
	log = log.With(zap.String("module", "nat64"))

	m := &Module{
		cfg:     cfg,
		log:     log,
		config:  config.NewStore(config.Default()),
		pool6:   pool6.New(),
		pool4:   pool4.NewNAT64Pool(),
		bib:     bib.New(),
		session: session.New(nil),
		fragDB:  fragdb.New(cfg.maxFragBuckets(), cfg.FragTTL, nil),
	}

	hairpinScope := hairpin.ScopeFunc(func(ip netip.Addr) bool {
		return m.poolContains(ip)
	})

	m.Processor = pipeline.NewNAT64(pipeline.NAT64Tables{
		Config:       m.config,
		Pool6:        m.pool6,
		Pool4:        m.pool4,
		FragDB:       m.fragDB,
		BIB:          m.bib,
		Session:      m.session,
		HairpinScope: hairpinScope,
		Log:          log,
	})

	m.Dispatcher = control.New(control.Tables{
		Build:    wire.BuildNAT64,
		Config:   m.config,
		Pool6:    m.pool6,
		Pool4NAT: m.pool4,
		BIB:      m.bib,
		Session:  m.session,
	}, log.Desugar())

	return m, nil
}

// poolContains reports whether ip falls within any of this module's
// configured pool4 prefixes, the hairpin scope check for a freshly
// translated NAT64 destination (spec §4.12).
func (m *Module) poolContains(ip netip.Addr) bool {
	found := false
	m.pool4.ForEach(func(e pool4.Entry) bool {
		if e.Prefix.Contains(ip) {
			found = true
			return false
		}
		return true
	})
	return found
}

// Run runs the module's TTL-driven session/BIB/fragment eviction until
// ctx is canceled (spec §5 "session eviction is driven by a single timer
// armed at min(head deadline, ...)").
func (m *Module) Run(ctx context.Context) error {
	m.log.Infow("starting nat64 module")
	defer m.log.Infow("stopped nat64 module")

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Module) sweep() {
	if purged := m.session.Sweep(m.bib); len(purged) > 0 {
		m.log.Debugw("purged expired sessions", zap.Int("count", len(purged)))
	}
	if dropped := m.fragDB.Sweep(); len(dropped) > 0 {
		m.log.Debugw("dropped stale fragment sets", zap.Int("count", len(dropped)))
	}
}
