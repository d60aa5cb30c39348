package pool

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/p-arndt/schaufenster/internal/metrics"
)

type Status string

const (
	StatusBooting    Status = "booting"
	StatusWarm       Status = "warm"
	StatusActive     Status = "active"
	StatusDestroying Status = "destroying"
)

// Container is the pool's view of one sandbox. Values handed out by
// Acquire and Status are copies; the pool owns the originals.
type Container struct {
	ID        string    `json:"id"`
	NativeID  string    `json:"-"`
	Port      int       `json:"port"`
	Status    Status    `json:"status"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	bootDeadline time.Time
}

type Config struct {
	PoolSize       int
	PortRangeStart int
	PortRangeEnd   int

	Metrics *metrics.Metrics

	// Probe overrides the readiness check against the mapped streaming
	// port. Nil selects the HTTP probe.
	Probe func(ctx context.Context, port int) bool

	ProbeInterval  time.Duration // default 2s
	ProbeTimeout   time.Duration // default 120s
	HealthInterval time.Duration // default 5s
	StopGrace      time.Duration // default 5s
}

// Pool maintains pre-warmed kiosk containers ready for instant allocation.
type Pool struct {
	runtime Runtime
	logger  *slog.Logger
	metrics *metrics.Metrics

	target atomic.Int64

	portStart int
	portEnd   int

	probe          func(ctx context.Context, port int) bool
	probeInterval  time.Duration
	probeTimeout   time.Duration
	healthInterval time.Duration
	stopGrace      time.Duration

	mu         sync.Mutex
	containers map[string]*Container
	usedPorts  map[int]bool

	stopCh chan struct{}
}

func New(rt Runtime, cfg Config, logger *slog.Logger) *Pool {
	p := &Pool{
		runtime:        rt,
		logger:         logger,
		metrics:        cfg.Metrics,
		portStart:      cfg.PortRangeStart,
		portEnd:        cfg.PortRangeEnd,
		probe:          cfg.Probe,
		probeInterval:  cfg.ProbeInterval,
		probeTimeout:   cfg.ProbeTimeout,
		healthInterval: cfg.HealthInterval,
		stopGrace:      cfg.StopGrace,
		containers:     make(map[string]*Container),
		usedPorts:      make(map[int]bool),
		stopCh:         make(chan struct{}),
	}
	p.target.Store(int64(cfg.PoolSize))

	if p.probe == nil {
		p.probe = httpProbe
	}
	if p.probeInterval <= 0 {
		p.probeInterval = 2 * time.Second
	}
	if p.probeTimeout <= 0 {
		p.probeTimeout = 120 * time.Second
	}
	if p.healthInterval <= 0 {
		p.healthInterval = 5 * time.Second
	}
	if p.stopGrace <= 0 {
		p.stopGrace = 5 * time.Second
	}
	return p
}

func httpProbe(ctx context.Context, port int) bool {
	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/", port), nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Init prepares the isolated network, removes orphaned containers from a
// previous run, and creates the initial warm set in parallel.
func (p *Pool) Init(ctx context.Context) error {
	if err := p.runtime.EnsureNetwork(ctx); err != nil {
		return fmt.Errorf("ensure network: %w", err)
	}

	orphans, err := p.runtime.ListOrphans(ctx)
	if err != nil {
		return fmt.Errorf("list orphans: %w", err)
	}
	for _, id := range orphans {
		p.logger.Warn("removing orphaned container", "native_id", shortID(id))
		if err := p.runtime.ForceRemove(ctx, id); err != nil {
			p.logger.Error("orphan removal failed", "native_id", shortID(id), "error", err)
		}
	}

	target := int(p.target.Load())
	p.logger.Info("warming pool", "target", target)

	var wg sync.WaitGroup
	for i := 0; i < target; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.createWarm(ctx); err != nil {
				p.logger.Error("warm container create failed", "error", err)
			}
		}()
	}
	wg.Wait()
	return nil
}

// Start runs the health loop until ctx is cancelled or Shutdown is called.
func (p *Pool) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.healthSweep(ctx)
			}
		}
	}()
}

// Acquire returns the first warm container, flipped to active and bound to
// sessionID. Returns nil when nothing is warm; the caller retries.
func (p *Pool) Acquire(sessionID string) *Container {
	p.mu.Lock()
	for _, c := range p.sortedLocked() {
		if c.Status == StatusWarm {
			c.Status = StatusActive
			c.SessionID = sessionID
			snapshot := *c
			p.mu.Unlock()
			p.publishGauges()
			return &snapshot
		}
	}
	p.mu.Unlock()
	return nil
}

// Release destroys the container and, when below target, kicks off a
// replacement. Idempotent and non-blocking.
func (p *Pool) Release(id string) {
	p.mu.Lock()
	c, ok := p.containers[id]
	if !ok || c.Status == StatusDestroying {
		p.mu.Unlock()
		return
	}
	c.Status = StatusDestroying
	delete(p.usedPorts, c.Port)
	delete(p.containers, id)
	nativeID := c.NativeID
	shortfall := int(p.target.Load()) - len(p.containers)
	p.mu.Unlock()

	p.logger.Info("releasing container", "container", id, "session_id", c.SessionID)
	p.publishGauges()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.runtime.StopAndRemove(ctx, nativeID, int(p.stopGrace.Seconds())); err != nil {
			p.logger.Warn("container destroy failed", "container", id, "error", err)
		}
	}()

	if shortfall > 0 {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := p.createWarm(ctx); err != nil {
				p.logger.Error("replacement create failed", "error", err)
			}
		}()
	}
}

// LaunchApp execs the URL launcher inside the container. Fire-and-forget:
// a failed launch is logged and the session stays up.
func (p *Pool) LaunchApp(containerID, url string) {
	p.mu.Lock()
	c, ok := p.containers[containerID]
	var nativeID string
	if ok {
		nativeID = c.NativeID
	}
	p.mu.Unlock()

	if !ok {
		p.logger.Warn("launch on unknown container", "container", containerID)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := p.runtime.LaunchURL(ctx, nativeID, url); err != nil {
			p.logger.Warn("app launch failed", "container", containerID, "error", err)
		}
	}()
}

// Status returns a snapshot of all live containers, ordered by port.
func (p *Pool) Status() []Container {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Container, 0, len(p.containers))
	for _, c := range p.sortedLocked() {
		out = append(out, *c)
	}
	return out
}

// WarmCount returns how many containers are ready for allocation.
func (p *Pool) WarmCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, c := range p.containers {
		if c.Status == StatusWarm {
			n++
		}
	}
	return n
}

// publishGauges refreshes the pool metrics from current state.
func (p *Pool) publishGauges() {
	if p.metrics == nil {
		return
	}
	p.metrics.PoolWarm.Set(float64(p.WarmCount()))
	p.metrics.PoolTarget.Set(float64(p.target.Load()))
}

// PoolSize returns the current target.
func (p *Pool) PoolSize() int {
	return int(p.target.Load())
}

// SetPoolSize updates the target. Growth happens on the next health tick;
// shrink is passive, the pool drains as sessions release.
func (p *Pool) SetPoolSize(n int) {
	p.target.Store(int64(n))
	p.logger.Info("pool target changed", "target", n)
	p.publishGauges()
}

// Restart destroys warm containers only, then refills to target.
func (p *Pool) Restart(ctx context.Context) {
	p.mu.Lock()
	var victims []*Container
	for id, c := range p.containers {
		if c.Status != StatusWarm {
			continue
		}
		c.Status = StatusDestroying
		delete(p.usedPorts, c.Port)
		delete(p.containers, id)
		victims = append(victims, c)
	}
	shortfall := int(p.target.Load()) - len(p.containers)
	p.mu.Unlock()

	p.logger.Info("pool restart", "destroyed", len(victims), "recreating", shortfall)

	for _, c := range victims {
		nativeID := c.NativeID
		go func() {
			rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			p.runtime.StopAndRemove(rmCtx, nativeID, int(p.stopGrace.Seconds()))
		}()
	}

	var wg sync.WaitGroup
	for i := 0; i < shortfall; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.createWarm(ctx); err != nil {
				p.logger.Error("restart create failed", "error", err)
			}
		}()
	}
	wg.Wait()
}

// Shutdown destroys every container. Used on daemon exit.
func (p *Pool) Shutdown(ctx context.Context) {
	close(p.stopCh)

	p.mu.Lock()
	var victims []string
	for _, c := range p.containers {
		victims = append(victims, c.NativeID)
	}
	p.containers = make(map[string]*Container)
	p.usedPorts = make(map[int]bool)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, nativeID := range victims {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runtime.StopAndRemove(ctx, nativeID, int(p.stopGrace.Seconds()))
		}()
	}
	wg.Wait()
}

// createWarm allocates an identity and port under the lock, then performs
// the runtime create and readiness probe outside it.
func (p *Pool) createWarm(ctx context.Context) error {
	id := uuid.New().String()[:8]
	name := "session-" + id

	p.mu.Lock()
	if len(p.containers) >= int(p.target.Load()) {
		p.mu.Unlock()
		return nil
	}
	port, ok := p.allocPortLocked()
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("no free port in [%d,%d]", p.portStart, p.portEnd)
	}
	c := &Container{
		ID:           id,
		Port:         port,
		Status:       StatusBooting,
		CreatedAt:    time.Now().UTC(),
		bootDeadline: time.Now().Add(p.probeTimeout),
	}
	p.containers[id] = c
	p.mu.Unlock()

	nativeID, err := p.runtime.CreateContainer(ctx, name, port)
	if err != nil {
		p.mu.Lock()
		delete(p.containers, id)
		delete(p.usedPorts, port)
		p.mu.Unlock()
		return fmt.Errorf("create %s: %w", name, err)
	}

	p.mu.Lock()
	if cur, ok := p.containers[id]; ok {
		cur.NativeID = nativeID
	}
	p.mu.Unlock()

	// the probe outlives the create call's context; only daemon stop ends it
	go p.probeLoop(id, port)

	p.logger.Info("container booting", "container", id, "port", port, "native_id", shortID(nativeID))
	return nil
}

// probeLoop polls the streaming endpoint until it answers or the ceiling
// passes. Only the first success flips booting to warm.
func (p *Pool) probeLoop(id string, port int) {
	ctx := context.Background()

	deadline := time.NewTimer(p.probeTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-deadline.C:
			p.logger.Warn("readiness probe timed out", "container", id, "port", port)
			return
		case <-ticker.C:
			if !p.probe(ctx, port) {
				continue
			}
			p.mu.Lock()
			c, ok := p.containers[id]
			if ok && c.Status == StatusBooting {
				c.Status = StatusWarm
				p.logger.Info("container warm", "container", id, "port", port)
			}
			p.mu.Unlock()
			p.publishGauges()
			return
		}
	}
}

// healthSweep reconciles the registry against native state and tops the
// pool back up to target.
func (p *Pool) healthSweep(ctx context.Context) {
	type probeTarget struct {
		id       string
		nativeID string
	}

	p.mu.Lock()
	var check []probeTarget
	var stale []string
	now := time.Now()
	for id, c := range p.containers {
		if c.Status == StatusDestroying {
			continue
		}
		if c.Status == StatusBooting && now.After(c.bootDeadline) {
			stale = append(stale, id)
			continue
		}
		check = append(check, probeTarget{id: id, nativeID: c.NativeID})
	}
	p.mu.Unlock()

	dead := stale
	for _, t := range check {
		running, err := p.runtime.IsRunning(ctx, t.nativeID)
		if err != nil || !running {
			dead = append(dead, t.id)
		}
	}

	for _, id := range dead {
		p.mu.Lock()
		c, ok := p.containers[id]
		if !ok {
			p.mu.Unlock()
			continue
		}
		nativeID := c.NativeID
		delete(p.usedPorts, c.Port)
		delete(p.containers, id)
		p.mu.Unlock()

		p.logger.Warn("recycling unhealthy container", "container", id)
		go func() {
			rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			p.runtime.ForceRemove(rmCtx, nativeID)
		}()
	}

	p.mu.Lock()
	shortfall := int(p.target.Load()) - len(p.containers)
	p.mu.Unlock()

	for i := 0; i < shortfall; i++ {
		go func() {
			createCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := p.createWarm(createCtx); err != nil {
				p.logger.Error("health refill failed", "error", err)
			}
		}()
	}

	p.publishGauges()
}

// allocPortLocked returns the lowest free port in the configured range.
func (p *Pool) allocPortLocked() (int, bool) {
	for port := p.portStart; port <= p.portEnd; port++ {
		if !p.usedPorts[port] {
			p.usedPorts[port] = true
			return port, true
		}
	}
	return 0, false
}

func (p *Pool) sortedLocked() []*Container {
	out := make([]*Container, 0, len(p.containers))
	for _, c := range p.containers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
