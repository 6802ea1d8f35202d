package runtime

import (
	"context"
	"iter"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/runner"
	adksession "google.golang.org/adk/session"
	"google.golang.org/genai"

	"hermes/internal/adapters/config"
	"hermes/pkg/errors"
	"hermes/pkg/logger"
)

// Runtime is the boundary to the agent execution engine. The gateway sends
// one user message per turn and consumes the resulting event stream; it
// never reaches into agent internals beyond the events themselves.
type Runtime interface {
	// Run dispatches a message into a session's conversation and streams
	// back runtime events. Iteration ends when the turn completes, an
	// error surfaces, or the context is cancelled.
	Run(ctx context.Context, userID, sessionID string, msg *genai.Content) iter.Seq2[*adksession.Event, error]

	// AppName reports the application namespace sessions are stored under.
	AppName() string
}

// ADKRuntime runs turns through an ADK runner backed by our session store.
type ADKRuntime struct {
	runner  *runner.Runner
	appName string
	log     *logger.Logger
}

// NewADKRuntime builds the runner around the root agent and session service.
func NewADKRuntime(cfg config.AgentConfig, root agent.Agent, sessions adksession.Service) (*ADKRuntime, error) {
	runnerInstance, err := runner.New(runner.Config{
		AppName:        cfg.AppName,
		Agent:          root,
		SessionService: sessions,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create runner")
	}

	return &ADKRuntime{
		runner:  runnerInstance,
		appName: cfg.AppName,
		log:     logger.Get().With("component", "adk_runtime"),
	}, nil
}

// Run streams one turn's events from the runner.
func (r *ADKRuntime) Run(ctx context.Context, userID, sessionID string, msg *genai.Content) iter.Seq2[*adksession.Event, error] {
	runConfig := agent.RunConfig{
		StreamingMode: agent.StreamingModeSSE,
	}

	r.log.Debugw("dispatching turn", "user_id", userID, "session_id", sessionID)

	return r.runner.Run(ctx, userID, sessionID, msg, runConfig)
}

// AppName reports the configured application name.
func (r *ADKRuntime) AppName() string {
	return r.appName
}
