package devtools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
	"github.com/yoyooyooo/logix-sub006/internal/store"
)

// DefaultDecisionLimit caps the decisions tool when no limit is given.
const DefaultDecisionLimit = 50

// --- builds ---

// BuildsTool lists the stored IR builds.
type BuildsTool struct {
	store *store.Store
}

// NewBuildsTool creates a BuildsTool.
func NewBuildsTool(st *store.Store) *BuildsTool {
	return &BuildsTool{store: st}
}

// Definition returns the MCP tool definition.
func (t *BuildsTool) Definition() mcp.Tool {
	return mcp.NewTool("builds",
		mcp.WithDescription("List IR builds in build order. With latest=true only the most recent build of the module is returned."),
		mcp.WithString("module", mcp.Description("Module name. Empty lists every module.")),
		mcp.WithBoolean("latest", mcp.Description("Return only the latest build. Requires module.")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle serves the builds tool.
func (t *BuildsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	module := req.GetString("module", "")

	if req.GetBool("latest", false) {
		if module == "" {
			return mcp.NewToolResultError("latest requires module"), nil
		}
		b, err := t.store.LatestBuild(ctx, module)
		if errors.Is(err, store.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("no build recorded for %q", module)), nil
		}
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultJSON(b)
	}

	builds, err := t.store.ReadBuilds(ctx, module)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultJSON(buildList{Builds: builds})
}

type buildList struct {
	Builds []store.BuildRecord `json:"builds"`
}

// --- decisions ---

// DecisionsTool lists converge decisions.
type DecisionsTool struct {
	store *store.Store
}

// NewDecisionsTool creates a DecisionsTool.
func NewDecisionsTool(st *store.Store) *DecisionsTool {
	return &DecisionsTool{store: st}
}

// Definition returns the MCP tool definition.
func (t *DecisionsTool) Definition() mcp.Tool {
	return mcp.NewTool("decisions",
		mcp.WithDescription("List the most recent converge decisions, oldest first."),
		mcp.WithString("module", mcp.Description("Filter by module name.")),
		mcp.WithString("instance", mcp.Description("Filter by instance id.")),
		mcp.WithString("outcome",
			mcp.Description("Filter by outcome."),
			mcp.Enum(string(ir.OutcomeConverged), string(ir.OutcomeNoop), string(ir.OutcomeDegraded)),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of decisions."),
			mcp.DefaultNumber(DefaultDecisionLimit),
			mcp.Min(1),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle serves the decisions tool.
func (t *DecisionsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f, errResult := filterFrom(req)
	if errResult != nil {
		return errResult, nil
	}
	f.Limit = req.GetInt("limit", DefaultDecisionLimit)
	if f.Limit < 1 {
		return mcp.NewToolResultError("limit must be >= 1"), nil
	}

	records, err := t.store.ReadDecisions(ctx, f)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultJSON(decisionList{Decisions: records})
}

type decisionList struct {
	Decisions []store.DecisionRecord `json:"decisions"`
}

// --- decision ---

// DecisionTool returns one decision by transaction id.
type DecisionTool struct {
	store *store.Store
}

// NewDecisionTool creates a DecisionTool.
func NewDecisionTool(st *store.Store) *DecisionTool {
	return &DecisionTool{store: st}
}

// Definition returns the MCP tool definition.
func (t *DecisionTool) Definition() mcp.Tool {
	return mcp.NewTool("decision",
		mcp.WithDescription("Return the full converge decision of one transaction, including step stats, top steps and carry-over."),
		mcp.WithString("txn_id", mcp.Required(), mcp.Description("Transaction id.")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle serves the decision tool.
func (t *DecisionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	txnID, err := req.RequireString("txn_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rec, err := t.store.ReadDecision(ctx, txnID)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("no decision for transaction %q", txnID)), nil
	}
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultJSON(rec)
}

// --- decision_stats ---

// DecisionStatsTool counts decisions by outcome and reason.
type DecisionStatsTool struct {
	store *store.Store
}

// NewDecisionStatsTool creates a DecisionStatsTool.
func NewDecisionStatsTool(st *store.Store) *DecisionStatsTool {
	return &DecisionStatsTool{store: st}
}

// Definition returns the MCP tool definition.
func (t *DecisionStatsTool) Definition() mcp.Tool {
	return mcp.NewTool("decision_stats",
		mcp.WithDescription("Count converge decisions grouped by outcome and degraded reason."),
		mcp.WithString("module", mcp.Description("Filter by module name.")),
		mcp.WithString("instance", mcp.Description("Filter by instance id.")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle serves the decision_stats tool.
func (t *DecisionStatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f, errResult := filterFrom(req)
	if errResult != nil {
		return errResult, nil
	}

	counts, err := t.store.DecisionStats(ctx, f)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, c := range counts {
		total += c.Count
	}
	return mcp.NewToolResultJSON(stats{Total: total, Counts: counts})
}

type stats struct {
	Total  int                  `json:"total"`
	Counts []store.OutcomeCount `json:"counts"`
}

// filterFrom reads the shared module/instance/outcome arguments. A non-nil
// result is a tool error to return to the client.
func filterFrom(req mcp.CallToolRequest) (store.DecisionFilter, *mcp.CallToolResult) {
	f := store.DecisionFilter{
		Module:     req.GetString("module", ""),
		InstanceID: req.GetString("instance", ""),
	}
	switch o := ir.Outcome(req.GetString("outcome", "")); o {
	case "":
	case ir.OutcomeConverged, ir.OutcomeNoop, ir.OutcomeDegraded:
		f.Outcome = o
	default:
		return f, mcp.NewToolResultError(fmt.Sprintf("unknown outcome %q", o))
	}
	return f, nil
}
