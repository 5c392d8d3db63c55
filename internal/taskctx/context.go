// Package taskctx holds the per-run execution context threaded through the
// lifecycle state machine and the orchestrator's child fan-out.
package taskctx

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/swarmguard/artemis/internal/callback"
	"github.com/swarmguard/artemis/internal/depclient"
)

// Status is a closed set of lifecycle states. An invalid value is rejected
// at assignment time by SetStatus.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusRunning  Status = "RUNNING"
	StatusSuccess  Status = "SUCCESS"
	StatusFailed   Status = "FAILED"
	StatusCanceled Status = "CANCELED"
	StatusSkipped  Status = "SKIPPED"
)

var terminalStatuses = map[Status]bool{
	StatusSuccess:  true,
	StatusFailed:   true,
	StatusCanceled: true,
	StatusSkipped:  true,
}

var allowedStatuses = map[Status]bool{
	StatusPending: true, StatusRunning: true,
	StatusSuccess: true, StatusFailed: true, StatusCanceled: true, StatusSkipped: true,
}

// CallbackEndpoints carries the dispatcher-supplied callback routing
// overrides from the inbound request envelope.
type CallbackEndpoints struct {
	Progress     string
	Callback     string
	CallbackIP   string
	CallbackPort int
}

// Meta is the transport-level identity of a run, shared unchanged between
// a parent context and every child context it spawns.
type Meta struct {
	RunID             string
	TaskID            string
	ExecType          string // SYNC | ASYNC
	TaskCode          string
	CallbackEndpoints CallbackEndpoints
}

// Context is one per run, owned by that run for its lifetime. A child
// context built by the orchestrator borrows Logger/DeptClients/Callback
// from its parent but owns its own Params/Stats/Status/timestamps.
type Context struct {
	mu sync.Mutex

	Meta           Meta
	IncomingParams map[string]any
	Params         map[string]any

	status           Status
	err              error
	startTS          time.Time
	endTS            time.Time
	hasEndTS         bool
	childrenTotal    int
	childrenComplete int
	stats            map[string]any

	Logger      *slog.Logger
	DeptClients map[string]*depclient.Client
	Callback    callback.Client

	resolver Resolver
	Unit     TaskUnit
}

// New builds a context for a freshly-arrived run, resolving its task unit
// constructor via resolver (normally the process's registry).
func New(meta Meta, body map[string]any, logger *slog.Logger, deptClients map[string]*depclient.Client, cb callback.Client, resolver Resolver) (*Context, error) {
	if body == nil {
		body = map[string]any{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctor, err := resolver.Get(meta.TaskCode)
	if err != nil {
		return nil, err
	}
	ctx := &Context{
		Meta:           meta,
		IncomingParams: body,
		Params:         map[string]any{},
		status:         StatusPending,
		startTS:        time.Now(),
		stats:          map[string]any{},
		Logger:         logger,
		DeptClients:    deptClients,
		Callback:       cb,
		resolver:       resolver,
		Unit:           ctor(),
	}
	return ctx, nil
}

// NewChild constructs a bare context for orchestrator fan-out: shared
// identity/resources from the parent, fresh run-local state.
func NewChild(parent *Context, childTaskCode string, childParams map[string]any) (*Context, error) {
	ctor, err := parent.resolver.Get(childTaskCode)
	if err != nil {
		return nil, fmt.Errorf("taskctx: resolving child task code %q: %w", childTaskCode, err)
	}
	if childParams == nil {
		childParams = map[string]any{}
	}
	child := &Context{
		Meta: Meta{
			RunID:             parent.Meta.RunID,
			TaskID:            parent.Meta.TaskID,
			ExecType:          parent.Meta.ExecType,
			TaskCode:          childTaskCode,
			CallbackEndpoints: parent.Meta.CallbackEndpoints,
		},
		IncomingParams: childParams,
		Params:         map[string]any{},
		status:         StatusPending,
		startTS:        time.Now(),
		stats:          map[string]any{},
		Logger:         parent.Logger,
		DeptClients:    parent.DeptClients,
		Callback:       parent.Callback,
		resolver:       parent.resolver,
		Unit:           ctor(),
	}
	return child, nil
}

// SetStatus validates against the closed status set before assigning.
func (c *Context) SetStatus(s Status) error {
	if !allowedStatuses[s] {
		return fmt.Errorf("taskctx: invalid status %q", s)
	}
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
	return nil
}

func (c *Context) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Context) SetError(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *Context) Error() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Context) MarkChildTotal(n int) {
	c.mu.Lock()
	c.childrenTotal = n
	c.mu.Unlock()
}

func (c *Context) IncChildCompleted() {
	c.mu.Lock()
	c.childrenComplete++
	c.mu.Unlock()
}

func (c *Context) ChildProgress() (completed, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.childrenComplete, c.childrenTotal
}

// Stat sets stats[key] = value, overwriting any previous entry.
func (c *Context) Stat(key string, value any) {
	c.mu.Lock()
	c.stats[key] = value
	c.mu.Unlock()
}

// IncStat numerically increments stats[key] by delta, falling back to a
// plain overwrite if the existing value isn't numeric.
func (c *Context) IncStat(key string, delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch existing := c.stats[key].(type) {
	case int:
		c.stats[key] = float64(existing) + delta
	case float64:
		c.stats[key] = existing + delta
	default:
		c.stats[key] = delta
	}
}

// Stats returns a shallow copy of the accumulated stats map.
func (c *Context) Stats() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.stats))
	for k, v := range c.stats {
		out[k] = v
	}
	return out
}

// Close sets end_ts if not already set. Safe to call multiple times.
func (c *Context) Close() {
	c.mu.Lock()
	if !c.hasEndTS {
		c.endTS = time.Now()
		c.hasEndTS = true
	}
	c.mu.Unlock()
}

func (c *Context) DurationMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	end := time.Now()
	if c.hasEndTS {
		end = c.endTS
	}
	return end.Sub(c.startTS).Milliseconds()
}

func (c *Context) IsRunning() bool {
	return c.Status() == StatusRunning
}

func (c *Context) IsFinished() bool {
	return terminalStatuses[c.Status()]
}

func (c *Context) AsyncMode() bool {
	return c.Meta.ExecType == "ASYNC"
}
