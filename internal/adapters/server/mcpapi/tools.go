package mcpapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/hylla/podtrack/internal/adapters/server/common"
	"github.com/hylla/podtrack/internal/domain"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// eventTypeNames lists accepted event_type enum values.
func eventTypeNames() []string {
	types := domain.EventTypes()
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}

// registerDispatchTools registers dispatch lookup, listing and creation tools.
func registerDispatchTools(srv *mcpserver.MCPServer, delivery common.DeliveryService) {
	srv.AddTool(
		mcp.NewTool(
			"podtrack.get_dispatch",
			mcp.WithDescription("Return the dispatch record for one loadsheet."),
			mcp.WithString("loadsheet_id", mcp.Required(), mcp.Description("Loadsheet identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			loadsheetID, err := req.RequireString("loadsheet_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			d, err := delivery.GetDispatch(ctx, loadsheetID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(d)
			if err != nil {
				return nil, fmt.Errorf("encode get_dispatch result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"podtrack.list_dispatches",
			mcp.WithDescription("List every loadsheet, newest dispatch first, with event counts and analysis."),
		),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			rows, err := delivery.Dashboard(ctx)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{
				"dispatches": rows,
			})
			if err != nil {
				return nil, fmt.Errorf("encode list_dispatches result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"podtrack.create_dispatch",
			mcp.WithDescription("Record a new loadsheet dispatch with its panel manifest."),
			mcp.WithString("loadsheet_id", mcp.Required(), mcp.Description("Loadsheet identifier")),
			mcp.WithString("job_id", mcp.Description("Job identifier")),
			mcp.WithString("description", mcp.Description("Free-text description")),
			mcp.WithString("driver", mcp.Description("Driver name")),
			mcp.WithArray("panel_ids", mcp.Description("Panel manifest"), mcp.WithStringItems()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args common.CreateDispatchRequest
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			if strings.TrimSpace(args.LoadsheetID) == "" {
				return mcp.NewToolResultError(`invalid_request: required argument "loadsheet_id" not found`), nil
			}
			d, err := delivery.CreateDispatch(ctx, args)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(d)
			if err != nil {
				return nil, fmt.Errorf("encode create_dispatch result: %w", err)
			}
			return result, nil
		},
	)
}

// registerEventTools registers event listing and mutation tools.
func registerEventTools(srv *mcpserver.MCPServer, delivery common.DeliveryService) {
	srv.AddTool(
		mcp.NewTool(
			"podtrack.list_events",
			mcp.WithDescription("List one loadsheet's lifecycle events in recorded order."),
			mcp.WithString("loadsheet_id", mcp.Required(), mcp.Description("Loadsheet identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			loadsheetID, err := req.RequireString("loadsheet_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			events, err := delivery.ListEvents(ctx, loadsheetID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{
				"events": events,
			})
			if err != nil {
				return nil, fmt.Errorf("encode list_events result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"podtrack.record_event",
			mcp.WithDescription("Record one lifecycle event stamped with the server clock."),
			mcp.WithString("loadsheet_id", mcp.Required(), mcp.Description("Loadsheet identifier")),
			mcp.WithString("event_type", mcp.Required(), mcp.Description("Lifecycle event type"), mcp.Enum(eventTypeNames()...)),
			mcp.WithString("job_id", mcp.Description("Job identifier (defaults to the dispatch job)")),
			mcp.WithString("staff_name", mcp.Description("Depot staff name")),
			mcp.WithString("receiver_name", mcp.Description("Receiver name for left_site")),
			mcp.WithString("failure_reason", mcp.Description("Failure or shortfall reason")),
			mcp.WithString("outcome", mcp.Description("full|partial|failed for left_site"), mcp.Enum("full", "partial", "failed")),
			mcp.WithArray("delivered_panel_ids", mcp.Description("Delivered panels for a partial outcome"), mcp.WithStringItems()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args common.RecordEventRequest
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			if strings.TrimSpace(args.LoadsheetID) == "" {
				return mcp.NewToolResultError(`invalid_request: required argument "loadsheet_id" not found`), nil
			}
			if strings.TrimSpace(args.EventType) == "" {
				return mcp.NewToolResultError(`invalid_request: required argument "event_type" not found`), nil
			}
			e, err := delivery.RecordEvent(ctx, args)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(e)
			if err != nil {
				return nil, fmt.Errorf("encode record_event result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"podtrack.update_event",
			mcp.WithDescription("Patch one event by id, or the first event matching (loadsheet_id, created_at)."),
			mcp.WithString("event_id", mcp.Description("Event id")),
			mcp.WithString("loadsheet_id", mcp.Description("Loadsheet identifier when addressing by key")),
			mcp.WithString("created_at", mcp.Description("RFC3339 event key when addressing by key")),
			mcp.WithString("staff_name", mcp.Description("New staff name")),
			mcp.WithString("receiver_name", mcp.Description("New receiver name")),
			mcp.WithString("failure_reason", mcp.Description("New failure reason")),
			mcp.WithString("outcome", mcp.Description("New outcome"), mcp.Enum("full", "partial", "failed")),
			mcp.WithArray("delivered_panel_ids", mcp.Description("New delivered panels"), mcp.WithStringItems()),
			mcp.WithString("new_created_at", mcp.Description("New RFC3339 timestamp")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				EventID           string    `json:"event_id"`
				LoadsheetID       string    `json:"loadsheet_id"`
				CreatedAt         string    `json:"created_at"`
				StaffName         *string   `json:"staff_name"`
				ReceiverName      *string   `json:"receiver_name"`
				FailureReason     *string   `json:"failure_reason"`
				Outcome           *string   `json:"outcome"`
				DeliveredPanelIDs *[]string `json:"delivered_panel_ids"`
				NewCreatedAt      *string   `json:"new_created_at"`
			}
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			e, err := delivery.UpdateEvent(ctx, common.UpdateEventRequest{
				Selector: common.EventSelector{
					EventID:     args.EventID,
					LoadsheetID: args.LoadsheetID,
					CreatedAt:   args.CreatedAt,
				},
				Patch: common.EventPatch{
					StaffName:         args.StaffName,
					ReceiverName:      args.ReceiverName,
					FailureReason:     args.FailureReason,
					Outcome:           args.Outcome,
					DeliveredPanelIDs: args.DeliveredPanelIDs,
					CreatedAt:         args.NewCreatedAt,
				},
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(e)
			if err != nil {
				return nil, fmt.Errorf("encode update_event result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"podtrack.delete_event",
			mcp.WithDescription("Delete one event by id, or the first event matching (loadsheet_id, created_at)."),
			mcp.WithString("event_id", mcp.Description("Event id")),
			mcp.WithString("loadsheet_id", mcp.Description("Loadsheet identifier when addressing by key")),
			mcp.WithString("created_at", mcp.Description("RFC3339 event key when addressing by key")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			e, err := delivery.DeleteEvent(ctx, common.EventSelector{
				EventID:     req.GetString("event_id", ""),
				LoadsheetID: req.GetString("loadsheet_id", ""),
				CreatedAt:   req.GetString("created_at", ""),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{
				"deleted": e,
			})
			if err != nil {
				return nil, fmt.Errorf("encode delete_event result: %w", err)
			}
			return result, nil
		},
	)
}

// registerAnalysisTools registers analysis and report tools.
func registerAnalysisTools(srv *mcpserver.MCPServer, delivery common.DeliveryService) {
	srv.AddTool(
		mcp.NewTool(
			"podtrack.analyze_loadsheet",
			mcp.WithDescription("Return travel time, on-site time and back-charge for one loadsheet."),
			mcp.WithString("loadsheet_id", mcp.Required(), mcp.Description("Loadsheet identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			loadsheetID, err := req.RequireString("loadsheet_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			analysis, err := delivery.AnalyzeLoadsheet(ctx, loadsheetID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(analysis)
			if err != nil {
				return nil, fmt.Errorf("encode analyze_loadsheet result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"podtrack.compose_report",
			mcp.WithDescription("Compose the proof-of-delivery document for one loadsheet."),
			mcp.WithString("loadsheet_id", mcp.Required(), mcp.Description("Loadsheet identifier")),
			mcp.WithString("format", mcp.Description("json or markdown"), mcp.Enum("json", "markdown")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			loadsheetID, err := req.RequireString("loadsheet_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if req.GetString("format", "json") == "markdown" {
				var b strings.Builder
				if err := delivery.RenderReportMarkdown(ctx, loadsheetID, &b); err != nil {
					return toolResultFromError(err), nil
				}
				return mcp.NewToolResultText(b.String()), nil
			}
			m, err := delivery.ComposeReport(ctx, loadsheetID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(m)
			if err != nil {
				return nil, fmt.Errorf("encode compose_report result: %w", err)
			}
			return result, nil
		},
	)
}
