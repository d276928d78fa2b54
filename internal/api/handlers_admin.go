package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.engine.Stats()
	if err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "stats retrieved", stats)
}

func (s *Server) handleChangelog(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	since := time.Time{}
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			BadRequestError(c, "since must be RFC3339")
			return
		}
		since = t
	}

	entries, err := s.engine.Changelog(since, limit)
	if err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "changelog retrieved", gin.H{"entries": entries, "count": len(entries)})
}

func (s *Server) handleConsolidate(c *gin.Context) {
	rec, err := s.engine.TriggerConsolidation("api")
	if err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "consolidation complete", rec)
}

func (s *Server) handleRecentConsolidations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	records, err := s.engine.RecentConsolidations(limit)
	if err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "consolidations listed", gin.H{"consolidations": records, "count": len(records)})
}

func (s *Server) handleRetentionDistribution(c *gin.Context) {
	buckets, _ := strconv.Atoi(c.DefaultQuery("buckets", "10"))
	dist, err := s.engine.RetentionDistribution(buckets)
	if err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "retention distribution", gin.H{"buckets": dist})
}

func (s *Server) handleRetentionTrend(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	trend, err := s.engine.RetentionTrend(days)
	if err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "retention trend", gin.H{"trend": trend})
}

func (s *Server) handleExport(c *gin.Context) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Content-Disposition", "attachment; filename=engram-export.jsonl")
	c.Status(http.StatusOK)
	if _, err := s.engine.ExportJSON(c.Writer); err != nil {
		s.log.Error("export failed mid-stream", "error", err)
	}
}

func (s *Server) handleImport(c *gin.Context) {
	result, err := s.engine.ImportJSON(c.Request.Context(), c.Request.Body)
	if err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "import complete", result)
}

// backupRequest is the wire shape for POST /admin/backup.
type backupRequest struct {
	Path string `json:"path" binding:"required"`
}

func (s *Server) handleBackup(c *gin.Context) {
	var req backupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "invalid request body: "+err.Error())
		return
	}
	if err := s.engine.Backup(req.Path); err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "backup written", gin.H{"path": req.Path})
}
