// Package tasks holds small built-in task units: an echo unit useful as a
// health-check/example task code, plus a fan-out demo; both are registered
// by cmd/artemis at startup.
package tasks

import (
	"fmt"

	"github.com/swarmguard/artemis/internal/lifecycle"
	"github.com/swarmguard/artemis/internal/orchestrator"
	"github.com/swarmguard/artemis/internal/taskctx"
)

// EchoCode is the task code the echo unit registers under.
const EchoCode = "echo"

type echoHooks struct {
	lifecycle.Base
}

// Execute returns ctx.Params verbatim (the merged config+incoming view),
// letting a caller confirm round-trip config merging end to end.
func (echoHooks) Execute(ctx *taskctx.Context) (any, error) {
	ctx.Stat("echoed_keys", len(ctx.Params))
	return ctx.Params, nil
}

// NewEcho builds the echo task unit's constructor, registered with
// registry.RegisterStatic under EchoCode at startup.
func NewEcho(cfg lifecycle.ConfigResolver) taskctx.Constructor {
	return func() taskctx.TaskUnit {
		return lifecycle.NewUnit(echoHooks{}, cfg)
	}
}

// FanOutCode is the task code a simple sequential fan-out demo registers
// under: it plans N copies of EchoCode as children.
const FanOutCode = "fanout-demo"

type fanOutPlanner struct {
	childCode string
	count     int
}

func (p fanOutPlanner) Plan(ctx *taskctx.Context) ([]orchestrator.ChildSpec, error) {
	n := p.count
	if raw, ok := ctx.IncomingParams["count"]; ok {
		if f, ok := raw.(float64); ok {
			n = int(f)
		}
	}
	specs := make([]orchestrator.ChildSpec, 0, n)
	for i := 0; i < n; i++ {
		specs = append(specs, orchestrator.ChildSpec{
			Key:    p.childCode,
			Params: map[string]any{"index": fmt.Sprintf("%d", i)},
		})
	}
	return specs, nil
}

// NewFanOutDemo builds an orchestrator task unit constructor that fans out
// to childCode count times (overridable per-run via incoming_params.count).
func NewFanOutDemo(childCode string, count int, cfg lifecycle.ConfigResolver) taskctx.Constructor {
	return func() taskctx.TaskUnit {
		return orchestrator.NewUnit(fanOutPlanner{childCode: childCode, count: count}, cfg)
	}
}
