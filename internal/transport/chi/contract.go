package chi

import (
	"context"

	"github.com/kailas-cloud/ragtools/internal/usecase/agent"
	"github.com/kailas-cloud/ragtools/internal/usecase/health"
	"github.com/kailas-cloud/ragtools/internal/usecase/tool"
)

// Tools lists, looks up and invokes registered tools.
type Tools interface {
	List() []tool.Descriptor
	Get(name string) (tool.Descriptor, bool)
	Invoke(ctx context.Context, name, query string) tool.Result
}

// Chatter answers a chat message using the tools.
type Chatter interface {
	Chat(ctx context.Context, message string) (agent.Reply, error)
}

// Summarizer summarizes document search results for a query.
type Summarizer interface {
	Summarize(ctx context.Context, query string) (agent.Summary, error)
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}
