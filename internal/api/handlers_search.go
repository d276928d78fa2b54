package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/engramhq/engram/internal/engine"
)

// searchRequest is the wire shape for POST /search.
type searchRequest struct {
	Query         string   `json:"query" binding:"required"`
	Limit         int      `json:"limit"`
	Topics        []string `json:"topics"`
	MinRetention  *float64 `json:"min_retention"`
	MinSimilarity *float64 `json:"min_similarity"`
}

// searchResult is one ranked hit with its explanatory sub-scores.
type searchResult struct {
	ID            string      `json:"id"`
	Content       string      `json:"content"`
	NodeType      string      `json:"node_type"`
	Tags          []string    `json:"tags"`
	Scores        interface{} `json:"scores"`
	AssociatedIDs []string    `json:"associated_ids,omitempty"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "invalid request body: "+err.Error())
		return
	}

	resp, err := s.engine.Search(c.Request.Context(), req.Query, engine.SearchOptions{
		Limit:         req.Limit,
		Topics:        req.Topics,
		MinRetention:  req.MinRetention,
		MinSimilarity: req.MinSimilarity,
	})
	if err != nil {
		EngineError(c, err)
		return
	}

	results := make([]searchResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, searchResult{
			ID:            r.Node.ID,
			Content:       r.Node.Content,
			NodeType:      r.Node.NodeType,
			Tags:          r.Node.Tags,
			Scores:        r.Scores,
			AssociatedIDs: r.AssociatedIDs,
		})
	}

	SuccessResponse(c, "search complete", gin.H{
		"results":          results,
		"count":            len(results),
		"suppressed_count": resp.SuppressedCount,
		"notes":            resp.Notes,
	})
}

func (s *Server) handleDueReviews(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	nodes, err := s.engine.DueReviews(limit)
	if err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "due reviews listed", gin.H{"memories": nodes, "count": len(nodes)})
}
