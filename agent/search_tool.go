package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// SearchDocumentsTool answers retrieval queries from the knowledge base.
type SearchDocumentsTool struct {
	kb *KnowledgeBase
}

// NewSearchDocumentsTool creates the search_documents tool
func NewSearchDocumentsTool(kb *KnowledgeBase) *SearchDocumentsTool {
	return &SearchDocumentsTool{kb: kb}
}

func (t *SearchDocumentsTool) Name() string {
	return "search_documents"
}

func (t *SearchDocumentsTool) Desc() string {
	return "Search the reference document collection by semantic similarity and return the most relevant passages."
}

func (t *SearchDocumentsTool) Params() map[string]*schema.ParameterInfo {
	return map[string]*schema.ParameterInfo{
		"query": {
			Type:     schema.String,
			Desc:     "Natural-language search query",
			Required: true,
		},
		"top_k": {
			Type: schema.Integer,
			Desc: "Number of passages to return (default 3)",
		},
	}
}

func (t *SearchDocumentsTool) Invoke(ctx context.Context, args map[string]interface{}) (*ToolOutcome, error) {
	query := argString(args, "query")
	topK := argInt(args, "top_k", 3)
	if topK <= 0 || topK > 20 {
		topK = 3
	}

	hits, err := t.kb.Search(ctx, query, topK)
	if err != nil {
		return nil, NewToolError(KindTransportFailure, err)
	}

	if len(hits) == 0 {
		return &ToolOutcome{Text: "No matching documents found."}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d matching passages:\n", len(hits))
	for i, hit := range hits {
		fmt.Fprintf(&sb, "%d. [%s] (score %.3f) %s\n", i+1, hit.Document.ID, hit.Score, hit.Document.Content)
	}
	return &ToolOutcome{Text: sb.String()}, nil
}
