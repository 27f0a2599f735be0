package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

type tenancyArgs struct {
	OrgID   string `json:"org_id" jsonschema:"required,Organization the memory belongs to"`
	AgentID string `json:"agent_id" jsonschema:"required,Agent within the organization"`
}

type addMemoriesInput struct {
	tenancyArgs
	UserID   string           `json:"user_id,omitempty" jsonschema:"End user the memory is about (default: 'default')"`
	Text     string           `json:"text,omitempty" jsonschema:"Free-text snippet to remember"`
	Messages []memory.Message `json:"messages,omitempty" jsonschema:"Conversation turns to distill into memories"`
	Scope    string           `json:"scope,omitempty" jsonschema:"Memory scope: prefs, facts, persona, or constraints (default: facts)"`
	Tags     []string         `json:"tags,omitempty" jsonschema:"Tags attached to the stored memories"`
	Source   string           `json:"source,omitempty" jsonschema:"Provenance hint"`
}

type addMemoriesOutput struct {
	Results []memory.AddItem `json:"results" jsonschema:"One element per persisted or deduplicated memory, in input order"`
}

type searchMemoryInput struct {
	tenancyArgs
	Query string   `json:"query" jsonschema:"required,Natural-language query"`
	K     int      `json:"k,omitempty" jsonschema:"Maximum hits to return (default from retrieval policy)"`
	Scope string   `json:"scope,omitempty" jsonschema:"Restrict to one memory scope"`
	Tags  []string `json:"tags,omitempty" jsonschema:"Restrict to memories carrying any of these tags"`
}

type searchMemoryOutput struct {
	Results []memory.Hit `json:"results" jsonschema:"Hits ordered by recency-decayed relevance"`
}

type updateMemoryInput struct {
	tenancyArgs
	ID      string    `json:"id" jsonschema:"required,Memory id to patch"`
	Text    *string   `json:"text,omitempty" jsonschema:"Replacement text (re-embeds the record)"`
	Tags    *[]string `json:"tags,omitempty" jsonschema:"Replacement tag list"`
	Scope   *string   `json:"scope,omitempty" jsonschema:"Replacement scope"`
	TTLDays *int      `json:"ttl_days,omitempty" jsonschema:"Replacement retention hint in days"`
	Deleted *bool     `json:"deleted,omitempty" jsonschema:"Soft-delete or restore the record"`
}

type updateMemoryOutput struct {
	Record memory.Record `json:"record" jsonschema:"The record after the patch"`
}

type deleteMemoryInput struct {
	tenancyArgs
	ID   string `json:"id" jsonschema:"required,Memory id to delete"`
	Hard bool   `json:"hard,omitempty" jsonschema:"Remove from storage instead of soft-deleting (default: false)"`
}

type deleteMemoryOutput struct {
	Status string `json:"status" jsonschema:"Always 'deleted' on success"`
}

type listMemoriesInput struct {
	tenancyArgs
	Limit          int  `json:"limit,omitempty" jsonschema:"Maximum records to return"`
	IncludeDeleted bool `json:"include_deleted,omitempty" jsonschema:"Include soft-deleted records (default: false)"`
}

type listMemoriesOutput struct {
	Results []memory.Record `json:"results" jsonschema:"Records ordered most recently updated first"`
}

type openMemoriesInput struct {
	tenancyArgs
	IDs []string `json:"ids" jsonschema:"required,Memory ids to retrieve"`
}

type openMemoriesOutput struct {
	Results []memory.Record `json:"results" jsonschema:"Records found within the caller's tenancy"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "add_memories",
		Description: "Distill text or conversation turns into durable memories for a tenant. Returns one result per candidate; duplicates map to the existing record.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args addMemoriesInput) (*mcp.CallToolResult, addMemoriesOutput, error) {
		items, err := s.core.Add(ctx, args.OrgID, args.AgentID, memory.AddRequest{
			UserID:   args.UserID,
			Text:     args.Text,
			Messages: args.Messages,
			Scope:    args.Scope,
			Tags:     args.Tags,
			Source:   args.Source,
		})
		if err != nil {
			return nil, addMemoriesOutput{}, fmt.Errorf("add_memories: %w", err)
		}
		s.logger.Debug("add_memories", zap.String("org_id", args.OrgID), zap.Int("results", len(items)))
		return nil, addMemoriesOutput{Results: items}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_memory",
		Description: "Semantic search over a tenant's memories with recency-decayed ranking.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args searchMemoryInput) (*mcp.CallToolResult, searchMemoryOutput, error) {
		hits, err := s.core.Search(ctx, args.OrgID, args.AgentID, memory.SearchRequest{
			Query: args.Query,
			K:     args.K,
			Scope: args.Scope,
			Tags:  args.Tags,
		})
		if err != nil {
			return nil, searchMemoryOutput{}, fmt.Errorf("search_memory: %w", err)
		}
		return nil, searchMemoryOutput{Results: hits}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "update_memory",
		Description: "Apply a partial patch to one memory. Changing text re-embeds the record.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args updateMemoryInput) (*mcp.CallToolResult, updateMemoryOutput, error) {
		record, err := s.core.Update(ctx, args.OrgID, args.AgentID, args.ID, memory.UpdateRequest{
			Text:    args.Text,
			Tags:    args.Tags,
			Scope:   args.Scope,
			TTLDays: args.TTLDays,
			Deleted: args.Deleted,
		})
		if err != nil {
			return nil, updateMemoryOutput{}, fmt.Errorf("update_memory: %w", err)
		}
		return nil, updateMemoryOutput{Record: *record}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_memory",
		Description: "Delete one memory, soft by default or permanently with hard=true.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args deleteMemoryInput) (*mcp.CallToolResult, deleteMemoryOutput, error) {
		if err := s.core.Delete(ctx, args.OrgID, args.AgentID, args.ID, args.Hard); err != nil {
			return nil, deleteMemoryOutput{}, fmt.Errorf("delete_memory: %w", err)
		}
		return nil, deleteMemoryOutput{Status: "deleted"}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_memories",
		Description: "List a tenant's memories, most recently updated first.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args listMemoriesInput) (*mcp.CallToolResult, listMemoriesOutput, error) {
		records, err := s.core.List(ctx, args.OrgID, args.AgentID, args.Limit, args.IncludeDeleted)
		if err != nil {
			return nil, listMemoriesOutput{}, fmt.Errorf("list_memories: %w", err)
		}
		return nil, listMemoriesOutput{Results: records}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "open_memories",
		Description: "Retrieve memories by id. Ids outside the caller's tenancy are silently dropped.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args openMemoriesInput) (*mcp.CallToolResult, openMemoriesOutput, error) {
		records, err := s.core.GetMany(ctx, args.OrgID, args.AgentID, args.IDs)
		if err != nil {
			return nil, openMemoriesOutput{}, fmt.Errorf("open_memories: %w", err)
		}
		return nil, openMemoriesOutput{Results: records}, nil
	})
}
