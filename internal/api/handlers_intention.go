package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/engramhq/engram/internal/database"
)

// intentionRequest is the wire shape for POST /intentions.
type intentionRequest struct {
	Content      string     `json:"content" binding:"required"`
	TriggerType  string     `json:"trigger_type" binding:"required"`
	TriggerValue string     `json:"trigger_value"`
	Priority     string     `json:"priority"`
	Deadline     *time.Time `json:"deadline"`
}

func (s *Server) handleSaveIntention(c *gin.Context) {
	var req intentionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "invalid request body: "+err.Error())
		return
	}

	in := &database.Intention{
		Content:      req.Content,
		TriggerType:  req.TriggerType,
		TriggerValue: req.TriggerValue,
		Priority:     req.Priority,
		Deadline:     req.Deadline,
	}
	if err := s.engine.SaveIntention(in); err != nil {
		EngineError(c, err)
		return
	}
	CreatedResponse(c, "intention saved", in)
}

func (s *Server) handleDueIntentions(c *gin.Context) {
	intentions, err := s.engine.DueIntentions()
	if err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "due intentions listed", gin.H{"intentions": intentions, "count": len(intentions)})
}

// snoozeRequest is the wire shape for POST /intentions/:id/snooze.
type snoozeRequest struct {
	Until time.Time `json:"until" binding:"required"`
}

func (s *Server) handleSnoozeIntention(c *gin.Context) {
	var req snoozeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "invalid request body: "+err.Error())
		return
	}
	if err := s.engine.SnoozeIntention(c.Param("id"), req.Until); err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "intention snoozed", gin.H{"id": c.Param("id"), "until": req.Until})
}

// resolveRequest is the wire shape for POST /intentions/:id/resolve.
type resolveRequest struct {
	Status string `json:"status" binding:"required"` // fulfilled, cancelled, expired
}

func (s *Server) handleResolveIntention(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "invalid request body: "+err.Error())
		return
	}
	if err := s.engine.ResolveIntention(c.Param("id"), req.Status); err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "intention resolved", gin.H{"id": c.Param("id"), "status": req.Status})
}
