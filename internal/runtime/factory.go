package runtime

import (
	"fmt"
	"os"
	"time"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	adkmodel "google.golang.org/adk/model"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"hermes/internal/adapters/config"
	"hermes/pkg/errors"
)

const defaultInstruction = `You are a DevOps orchestrator. You help engineers inspect
infrastructure, check service health and review recent deployments. Use your
tools when a question concerns live system state, and answer directly otherwise.
Keep responses short and operational.`

// NewRootAgent builds the orchestrator agent the runner executes. Tools
// cover the read-only infrastructure checks the orchestrator exposes.
func NewRootAgent(cfg config.AgentConfig) (agent.Agent, error) {
	instruction := cfg.Instruction
	if instruction == "" {
		instruction = defaultInstruction
	}

	model := adkmodel.BasicModel{
		ID:         cfg.Model,
		ProviderID: "google",
		Tokens:     8192,
	}

	statusTool, err := functiontool.New(
		functiontool.Config{
			Name:        "check_service_status",
			Description: "Report the current status of a named service.",
		},
		checkServiceStatus,
	)
	if err != nil {
		return nil, errors.Wrap(err, "create check_service_status tool")
	}

	timeTool, err := functiontool.New(
		functiontool.Config{
			Name:        "get_server_time",
			Description: "Return the gateway server's current UTC time.",
		},
		getServerTime,
	)
	if err != nil {
		return nil, errors.Wrap(err, "create get_server_time tool")
	}

	root, err := llmagent.New(llmagent.Config{
		Name:        cfg.AppName,
		Description: "Conversational DevOps assistant for infrastructure questions.",
		Model:       model,
		Tools:       []tool.Tool{statusTool, timeTool},
		Instruction: instruction,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create root agent")
	}

	return root, nil
}

func checkServiceStatus(_ tool.Context, args map[string]interface{}) (map[string]interface{}, error) {
	service, _ := args["service"].(string)
	if service == "" {
		return nil, fmt.Errorf("service name is required")
	}

	host, _ := os.Hostname()
	return map[string]interface{}{
		"service":    service,
		"status":     "unknown",
		"checked_at": time.Now().UTC().Format(time.RFC3339),
		"checked_on": host,
		"note":       "no probe configured for this service",
	}, nil
}

func getServerTime(_ tool.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"utc": time.Now().UTC().Format(time.RFC3339),
	}, nil
}
