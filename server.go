package braid

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/braidsearch/braid/schema"
)

// Version is reported to MCP clients during initialization.
const Version = "1.0.0"

// NewServer exposes the pipeline as MCP tools over any mcp-go transport.
// Every tool is stateless; the client carries all shared state.
func NewServer(c *Client) *server.MCPServer {
	s := server.NewMCPServer(
		"braid",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions("Hybrid retrieval server: decompose queries into sub-query plans, "+
			"search lexical/dense/sparse signals, rerank candidates, or run the full pipeline with `query`. "+
			"Ingest documents with `add-documents` before searching."),
	)

	s.AddTool(mcp.NewTool("decompose",
		mcp.WithDescription("Classify a query and decompose it into dependency-ordered sub-queries"),
		mcp.WithString("query", mcp.Required(), mcp.Description("The query to decompose")),
	), handleDecompose(c))

	s.AddTool(mcp.NewTool("search",
		mcp.WithDescription("Search one retrieval signal directly and return its ranked results"),
		mcp.WithString("query", mcp.Required(), mcp.Description("The search query")),
		mcp.WithString("method", mcp.Description("Retrieval signal: bm25, dense, or sparse"),
			mcp.Enum(schema.MethodBM25, schema.MethodDense, schema.MethodSparse),
			mcp.DefaultString(schema.MethodBM25)),
		mcp.WithNumber("top_k", mcp.Description("Maximum number of results"), mcp.DefaultNumber(10)),
	), handleSearch(c))

	s.AddTool(mcp.NewToolWithRawSchema("rerank",
		"Rerank search results against a query using the cross-encoder, LLM, or hybrid method",
		rerankSchema), handleRerank(c))

	s.AddTool(mcp.NewTool("query",
		mcp.WithDescription("Run the full pipeline: decompose, retrieve per sub-query, fuse, rerank, aggregate"),
		mcp.WithString("query", mcp.Required(), mcp.Description("The query to answer")),
		mcp.WithNumber("top_k", mcp.Description("Maximum number of aggregated results"), mcp.DefaultNumber(10)),
	), handleQuery(c))

	s.AddTool(mcp.NewToolWithRawSchema("add-documents",
		"Index a batch of documents into every enabled retrieval signal",
		addDocumentsSchema), handleAddDocuments(c))

	s.AddTool(mcp.NewTool("index-stats",
		mcp.WithDescription("Report the document count per retrieval signal"),
	), handleIndexStats(c))

	s.AddTool(mcp.NewTool("save-indexes",
		mcp.WithDescription("Snapshot every retrieval signal to the configured snapshot location"),
	), handleSaveIndexes(c))

	s.AddTool(mcp.NewTool("load-indexes",
		mcp.WithDescription("Restore every retrieval signal from the configured snapshot location"),
	), handleLoadIndexes(c))

	s.AddTool(mcp.NewTool("clear-indexes",
		mcp.WithDescription("Drop all indexed documents from every retrieval signal"),
	), handleClearIndexes(c))

	return s
}

// ServeStdio runs the MCP server over stdin/stdout until the stream
// closes.
func ServeStdio(c *Client) error {
	return server.ServeStdio(NewServer(c))
}

var rerankSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "The query the results answer"},
    "results": {
      "type": "array",
      "description": "Candidates to rerank, in their current order",
      "items": {
        "type": "object",
        "properties": {
          "document": {
            "type": "object",
            "properties": {
              "id": {"type": "string"},
              "content": {"type": "string"},
              "metadata": {"type": "object"}
            },
            "required": ["id", "content"]
          },
          "score": {"type": "number"},
          "methods": {"type": "array", "items": {"type": "string"}}
        },
        "required": ["document"]
      }
    },
    "method": {
      "type": "string",
      "description": "Rerank method: cross_encoder, llm, or hybrid; empty uses the configured default",
      "enum": ["cross_encoder", "llm", "hybrid", ""]
    }
  },
  "required": ["query", "results"]
}`)

var addDocumentsSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "documents": {
      "type": "array",
      "description": "Documents to index",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "string", "description": "Stable unique id; re-adding an id replaces the document"},
          "content": {"type": "string", "description": "Document text"},
          "metadata": {"type": "object", "description": "Opaque metadata returned with search hits"}
        },
        "required": ["id", "content"]
      }
    }
  },
  "required": ["documents"]
}`)

func handleDecompose(c *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		dec, err := c.Decompose(ctx, query)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("decompose failed", err), nil
		}
		return jsonResult(dec)
	}
}

func handleSearch(c *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		method := req.GetString("method", schema.MethodBM25)
		topK := req.GetInt("top_k", 10)

		results, err := c.Search(ctx, query, method, topK)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("search failed", err), nil
		}
		return jsonResult(results)
	}
}

func handleRerank(c *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Query   string                `json:"query"`
			Results []schema.SearchResult `json:"results"`
			Method  string                `json:"method"`
		}
		if err := req.BindArguments(&args); err != nil {
			return mcp.NewToolResultErrorFromErr("invalid arguments", err), nil
		}
		if args.Query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		reranked, err := c.Rerank(ctx, args.Query, args.Results, args.Method)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("rerank failed", err), nil
		}
		return jsonResult(reranked)
	}
}

func handleQuery(c *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		topK := req.GetInt("top_k", 10)

		agg, err := c.Run(ctx, query, topK)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("query failed", err), nil
		}
		return jsonResult(agg)
	}
}

func handleAddDocuments(c *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Documents []schema.Document `json:"documents"`
		}
		if err := req.BindArguments(&args); err != nil {
			return mcp.NewToolResultErrorFromErr("invalid arguments", err), nil
		}
		n, err := c.AddDocuments(ctx, args.Documents)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("add documents failed", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("indexed %d documents", n)), nil
	}
}

func handleIndexStats(c *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(c.Stats())
	}
}

func handleSaveIndexes(c *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := c.SaveIndexes(ctx); err != nil {
			return mcp.NewToolResultErrorFromErr("save failed", err), nil
		}
		return mcp.NewToolResultText("indexes saved"), nil
	}
}

func handleLoadIndexes(c *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := c.LoadIndexes(ctx); err != nil {
			return mcp.NewToolResultErrorFromErr("load failed", err), nil
		}
		return mcp.NewToolResultText("indexes loaded"), nil
	}
}

func handleClearIndexes(c *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := c.ClearIndexes(ctx); err != nil {
			return mcp.NewToolResultErrorFromErr("clear failed", err), nil
		}
		return mcp.NewToolResultText("indexes cleared"), nil
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	bs, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultErrorFromErr("encode response", err), nil
	}
	return mcp.NewToolResultText(string(bs)), nil
}
