// The worker binary runs a demo workflow against a running gateway: it
// forwards logs, reports progress, and finally asks the attached client for
// confirmation through the relay. Useful for exercising a deployment end to
// end.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/taskgate/taskgate/internal/engine"
	"github.com/taskgate/taskgate/internal/proxy"
	"github.com/taskgate/taskgate/internal/relay"
	"github.com/taskgate/taskgate/internal/wire"
	"github.com/taskgate/taskgate/pkg/logger"
)

// directRuntime marks the demo as ordinary (non-sandboxed) code bound to a
// fixed run.
type directRuntime struct {
	info engine.WorkflowInfo
}

func (r directRuntime) Mode() engine.RuntimeMode          { return engine.ModeDirect }
func (r directRuntime) Info() (engine.WorkflowInfo, bool) { return r.info, true }

func main() {
	gatewayURL := flag.String("gateway", "", "gateway base URL (defaults to TASKGATE_GATEWAY_URL)")
	token := flag.String("token", "", "gateway token (defaults to TASKGATE_GATEWAY_TOKEN)")
	workflowID := flag.String("workflow-id", "demo-workflow", "workflow id for the demo run")
	executionID := flag.String("execution-id", "", "execution id (random when empty)")
	flag.Parse()

	execID := *executionID
	if execID == "" {
		execID = uuid.NewString()
	}

	client := relay.NewClient(relay.Options{GatewayURL: *gatewayURL, GatewayToken: *token})
	rt := directRuntime{info: engine.WorkflowInfo{WorkflowID: *workflowID, RunID: execID}}
	activities := relay.NewSystemActivities(client, rt)

	p := proxy.New(proxy.Config{
		Runtime:     rt,
		Activities:  activities,
		Direct:      activities,
		ExecutionID: func() string { return execID },
	})

	logger.Infof("Demo run %s (workflow %s) against %s", execID, *workflowID, client.BaseURL())
	logger.Infof("Attach a client to /internal/session/by-run/%s/attach before continuing", execID)

	ctx := context.Background()

	p.SendLogMessage(ctx, "info", map[string]any{
		"namespace": "demo.worker",
		"message":   "demo run started",
	}, "demo")

	total := 3.0
	for step := 1; step <= 3; step++ {
		time.Sleep(500 * time.Millisecond)
		p.SendProgressNotification(ctx, execID, float64(step), &total, "working")
		logger.Infof("Reported progress %d/3", step)
	}

	result, err := p.Elicit(ctx, wire.ElicitParams{
		Message: "Demo steps finished. Mark the run as done?",
		RequestedSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"confirmed": map[string]any{"type": "boolean"},
			},
		},
	})
	if err != nil {
		logger.Errorf("Elicitation failed: %v", err)
		os.Exit(1)
	}
	logger.Infof("Client answered with action %q: %v", result.Action, result.Content)

	p.SendLogMessage(ctx, "info", map[string]any{
		"namespace": "demo.worker",
		"message":   "demo run finished",
	}, "demo")

	// Give fire-and-forget notifications a moment to flush.
	time.Sleep(time.Second)
}
