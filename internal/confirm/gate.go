package confirm

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/operant-labs/toolgate/internal/audit"
	"github.com/operant-labs/toolgate/internal/registry"
)

// DefaultTTL is the approval window when none is configured.
const DefaultTTL = 5 * time.Minute

// DefaultSweepInterval is how often the gate scans for overdue confirmations.
const DefaultSweepInterval = 5 * time.Second

// Handle is what the caller gets back when a confirmation gates its call:
// enough to surface the approval card and correlate the later resolution.
type Handle struct {
	ID        string             `json:"confirmation_id"`
	RiskLevel registry.RiskLevel `json:"risk_level"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// Gate creates, resolves, and expires confirmations. Waiters subscribe per
// confirmation id; the suspension point shares no lock with other
// invocations.
type Gate struct {
	store  Store
	writer audit.Writer
	ttl    time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	waiters map[string]chan *Confirmation

	done    chan struct{}
	stopped chan struct{}
}

// GateConfig configures the Gate.
type GateConfig struct {
	Store         Store
	Writer        audit.Writer
	TTL           time.Duration
	SweepInterval time.Duration
	Logger        *zap.Logger
}

// NewGate creates a gate and starts its expiry sweeper.
func NewGate(cfg GateConfig) *Gate {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = DefaultSweepInterval
	}
	g := &Gate{
		store:   cfg.Store,
		writer:  cfg.Writer,
		ttl:     ttl,
		logger:  cfg.Logger,
		waiters: make(map[string]chan *Confirmation),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go g.sweepLoop(sweep)
	return g
}

// Close stops the expiry sweeper.
func (g *Gate) Close() {
	close(g.done)
	<-g.stopped
}

// CreateRequest carries the redacted facts of a gated invocation. ID may be
// pre-allocated so the caller can Subscribe before the row exists; when empty
// a fresh id is generated.
type CreateRequest struct {
	ID         string
	ToolName   string
	EndpointID string // empty for ad hoc calls
	ParamsJSON json.RawMessage
	RiskLevel  registry.RiskLevel
	User       string
}

// Create persists a pending confirmation and returns its handle. The caller
// should Subscribe before publishing the handle to avoid missing a fast
// resolution.
func (g *Gate) Create(ctx context.Context, req CreateRequest) (*Confirmation, error) {
	now := time.Now()
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	c := &Confirmation{
		ID:         id,
		ToolName:   req.ToolName,
		EndpointID: req.EndpointID,
		ParamsJSON: req.ParamsJSON,
		RiskLevel:  req.RiskLevel,
		CreatedAt:  now,
		ExpiresAt:  now.Add(g.ttl),
		State:      StatePending,
	}
	if err := g.store.Create(ctx, c); err != nil {
		return nil, err
	}

	g.writer.Write(&audit.Event{
		Type:           audit.EventConfirmationCreated,
		Timestamp:      now,
		ConfirmationID: c.ID,
		ToolName:       c.ToolName,
		EndpointID:     c.EndpointID,
		RiskLevel:      string(c.RiskLevel),
		ParamsJSON:     string(c.ParamsJSON),
		UserID:         req.User,
		Outcome:        string(StatePending),
	})
	g.logger.Info("confirmation created",
		zap.String("confirmation_id", c.ID),
		zap.String("tool_name", c.ToolName),
		zap.String("risk_level", string(c.RiskLevel)),
		zap.Time("expires_at", c.ExpiresAt),
	)
	return c.clone(), nil
}

// Get returns the confirmation, or nil if unknown.
func (g *Gate) Get(ctx context.Context, id string) (*Confirmation, error) {
	return g.store.Get(ctx, id)
}

// Resolve applies an external approve/reject signal. The first resolution
// wins; later signals get AlreadyResolved (or ConfirmationExpired), never a
// silent success. The winning resolution is published to the id's waiter.
func (g *Gate) Resolve(ctx context.Context, id string, decision Decision, actor string) (*Confirmation, error) {
	var state State
	switch decision {
	case DecisionApprove:
		state = StateApproved
	case DecisionReject:
		state = StateRejected
	default:
		return nil, errInvalidDecision(decision)
	}

	c, err := g.store.Resolve(ctx, id, state, actor, time.Now())
	if err != nil {
		// A signal that found the row pending but overdue expired it in the
		// store; that transition is terminal, so the waiter must still be
		// released or the suspended call hangs forever.
		if c != nil && c.State == StateExpired {
			g.notifyExpired(c)
		}
		return nil, err
	}

	g.writer.Write(&audit.Event{
		Type:           audit.EventConfirmationResolved,
		Timestamp:      c.ResolvedAt,
		ConfirmationID: c.ID,
		ToolName:       c.ToolName,
		EndpointID:     c.EndpointID,
		RiskLevel:      string(c.RiskLevel),
		ParamsJSON:     string(c.ParamsJSON),
		Actor:          actor,
		Outcome:        string(c.State),
	})
	g.logger.Info("confirmation resolved",
		zap.String("confirmation_id", c.ID),
		zap.String("state", string(c.State)),
		zap.String("actor", actor),
	)

	g.publish(c)
	return c, nil
}

// Subscribe registers the single waiter for a confirmation id. The channel
// receives the confirmation exactly once, on its terminal transition. The
// cancel func must be called if the waiter abandons the wait — abandoning
// does NOT resolve the confirmation, a human can still act on it.
func (g *Gate) Subscribe(id string) (<-chan *Confirmation, func()) {
	ch := make(chan *Confirmation, 1)
	g.mu.Lock()
	g.waiters[id] = ch
	g.mu.Unlock()

	cancel := func() {
		g.mu.Lock()
		if g.waiters[id] == ch {
			delete(g.waiters, id)
		}
		g.mu.Unlock()
	}
	return ch, cancel
}

func (g *Gate) publish(c *Confirmation) {
	g.mu.Lock()
	ch, ok := g.waiters[c.ID]
	if ok {
		delete(g.waiters, c.ID)
	}
	g.mu.Unlock()
	if ok {
		ch <- c // buffered; the single send never blocks
	}
}

func (g *Gate) sweepLoop(interval time.Duration) {
	defer close(g.stopped)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.sweep()
		case <-g.done:
			return
		}
	}
}

func (g *Gate) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	expired, err := g.store.ExpireDue(ctx, time.Now())
	if err != nil {
		g.logger.Warn("confirmation expiry sweep failed", zap.Error(err))
		return
	}
	for _, c := range expired {
		g.notifyExpired(c)
	}
}

// notifyExpired records the expiry and releases the waiter. Used by the
// sweeper and by Resolve when a late signal expires the row itself.
func (g *Gate) notifyExpired(c *Confirmation) {
	g.writer.Write(&audit.Event{
		Type:           audit.EventConfirmationResolved,
		Timestamp:      c.ResolvedAt,
		ConfirmationID: c.ID,
		ToolName:       c.ToolName,
		EndpointID:     c.EndpointID,
		RiskLevel:      string(c.RiskLevel),
		ParamsJSON:     string(c.ParamsJSON),
		Actor:          ExpiredActor,
		Outcome:        string(StateExpired),
	})
	g.logger.Info("confirmation expired",
		zap.String("confirmation_id", c.ID),
		zap.String("tool_name", c.ToolName),
	)
	g.publish(c)
}
