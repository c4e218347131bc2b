package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	recorddomain "github.com/vidlens/trendsync/internal/record/domain"
)

type classifyRequest struct {
	Category    string `json:"category"`
	SubCategory string `json:"sub_category"`
}

type ingestRecord struct {
	VideoID   string    `json:"video_id"`
	DayKey    string    `json:"day_key"`
	ViewCount int64     `json:"view_count"`
	LikeCount int64     `json:"like_count"`
	CreatedAt time.Time `json:"created_at"`
}

type ingestRequest struct {
	Records []ingestRecord `json:"records"`
}

func (s *Server) ListRecords(c *gin.Context) {
	if day := strings.TrimSpace(c.Query("day")); day != "" {
		records, err := s.syncerSvc.ReadDay(c.Request.Context(), day)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"day_key": day, "records": records}})
		return
	}

	view, err := s.syncerSvc.ReadRecords(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) ListDays(c *gin.Context) {
	view, err := s.syncerSvc.ReadDays(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) ListDayRecords(c *gin.Context) {
	dayKey := strings.TrimSpace(c.Param("dayKey"))
	if dayKey == "" {
		AbortWithError(c, newValidationError("dayKey", "invalid_day_key", "day key is required"))
		return
	}

	records, err := s.syncerSvc.ReadDay(c.Request.Context(), dayKey)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"day_key": dayKey, "records": records}})
}

func (s *Server) ClassifyRecord(c *gin.Context) {
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	category := strings.TrimSpace(req.Category)
	if category == "" {
		AbortWithError(c, newValidationError("category", "invalid_category", "category is required"))
		return
	}

	result, err := s.syncerSvc.WriteClassification(
		c.Request.Context(),
		strings.TrimSpace(c.Param("videoId")),
		strings.TrimSpace(c.Param("dayKey")),
		category,
		strings.TrimSpace(req.SubCategory),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if result.Queued {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"data": result})
}

func (s *Server) DeleteRecord(c *gin.Context) {
	result, err := s.syncerSvc.DeleteRecord(
		c.Request.Context(),
		strings.TrimSpace(c.Param("videoId")),
		strings.TrimSpace(c.Param("dayKey")),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if result.Queued {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"data": result})
}

func (s *Server) IngestRecords(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(req.Records) == 0 {
		AbortWithError(c, newValidationError("records", "empty_records", "records must not be empty"))
		return
	}

	records := make([]*recorddomain.TrendRecord, 0, len(req.Records))
	for _, in := range req.Records {
		records = append(records, &recorddomain.TrendRecord{
			VideoID:   strings.TrimSpace(in.VideoID),
			DayKey:    strings.TrimSpace(in.DayKey),
			ViewCount: in.ViewCount,
			LikeCount: in.LikeCount,
			CreatedAt: in.CreatedAt,
		})
	}

	ingested, err := s.syncerSvc.Ingest(c.Request.Context(), records)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"ingested": ingested}})
}
