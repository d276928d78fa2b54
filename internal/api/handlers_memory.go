package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/engramhq/engram/internal/database"
	"github.com/engramhq/engram/internal/engine"
)

// ingestRequest is the wire shape for POST /memories.
type ingestRequest struct {
	Content    string     `json:"content" binding:"required"`
	NodeType   string     `json:"node_type"`
	Tags       []string   `json:"tags"`
	Source     string     `json:"source"`
	ValidFrom  *time.Time `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until"`
}

func (s *Server) handleIngest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "invalid request body: "+err.Error())
		return
	}

	result, err := s.engine.Ingest(c.Request.Context(), engine.IngestRequest{
		Content:    req.Content,
		NodeType:   req.NodeType,
		Tags:       req.Tags,
		Source:     req.Source,
		ValidFrom:  req.ValidFrom,
		ValidUntil: req.ValidUntil,
	})
	if err != nil {
		EngineError(c, err)
		return
	}
	CreatedResponse(c, "memory processed", result)
}

func (s *Server) handleGetMemory(c *gin.Context) {
	node, err := s.engine.Get(c.Param("id"))
	if err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "memory retrieved", node)
}

func (s *Server) handleListMemories(c *gin.Context) {
	filters := &database.NodeFilters{
		NodeType: c.Query("node_type"),
	}
	if tag := c.Query("tag"); tag != "" {
		filters.Tags = []string{tag}
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filters.Limit = limit
	}
	if offset, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil {
		filters.Offset = offset
	}
	if from := c.Query("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filters.StartDate = &t
		}
	}
	if to := c.Query("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filters.EndDate = &t
		}
	}

	nodes, err := s.engine.List(filters)
	if err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "memories listed", gin.H{"memories": nodes, "count": len(nodes)})
}

func (s *Server) handleDeleteMemory(c *gin.Context) {
	if err := s.engine.Delete(c.Request.Context(), c.Param("id")); err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "memory deleted", gin.H{"id": c.Param("id")})
}

func (s *Server) handleMemoryHistory(c *gin.Context) {
	transitions, err := s.engine.History(c.Param("id"))
	if err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "history retrieved", gin.H{"transitions": transitions})
}

// reviewRequest is the wire shape for POST /memories/:id/review.
type reviewRequest struct {
	Rating int `json:"rating" binding:"required"`
}

func (s *Server) handleReview(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "invalid request body: "+err.Error())
		return
	}

	outcome, err := s.engine.MarkReviewed(c.Param("id"), req.Rating)
	if err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "review recorded", gin.H{
		"node":           outcome.Node,
		"rating":         outcome.Rating,
		"retrievability": outcome.Retrievability,
		"interval_days":  outcome.Interval,
	})
}

func (s *Server) handleReviewPreview(c *gin.Context) {
	previews, err := s.engine.PreviewReview(c.Param("id"))
	if err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "review previewed", gin.H{"previews": previews})
}

func (s *Server) handleMarkUseful(c *gin.Context) {
	if err := s.engine.MarkUseful(c.Param("id")); err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "usefulness recorded", gin.H{"id": c.Param("id")})
}
