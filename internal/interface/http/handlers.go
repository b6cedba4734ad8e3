package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/vip-wager/wager-hub/internal/application/command"
	"github.com/vip-wager/wager-hub/internal/application/query"
	"github.com/vip-wager/wager-hub/internal/domain/shared"
	"github.com/vip-wager/wager-hub/internal/domain/wager"
	"github.com/vip-wager/wager-hub/internal/infrastructure/scheduler"
	"github.com/vip-wager/wager-hub/internal/interface/http/handlers"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, handlers.HealthStatus{
			Status:    handlers.StatusOK,
			Uptime:    s.Uptime().Round(time.Second).String(),
			Timestamp: time.Now().UTC(),
		})
		return
	}

	status := s.deps.Health.Check(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADJUSTMENTS
// ══════════════════════════════════════════════════════════════════════════════

// adjustmentRequest is the body of a single adjustment.
type adjustmentRequest struct {
	ExternalID string          `json:"external_id"`
	Timeframe  string          `json:"applied_to_timeframe"`
	Type       string          `json:"adjustment_type"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
}

func (r adjustmentRequest) toDomain() (wager.AdjustmentRequest, error) {
	tf, err := wager.ParseTimeframe(r.Timeframe)
	if err != nil {
		return wager.AdjustmentRequest{}, shared.Validationf("http", "adjustment", "%v", err)
	}
	return wager.AdjustmentRequest{
		ExternalID: r.ExternalID,
		Timeframe:  tf,
		Type:       wager.AdjustmentType(strings.ToLower(r.Type)),
		Amount:     r.Amount,
		Reason:     r.Reason,
	}, nil
}

type createAdjustmentBody struct {
	adjustmentRequest
	Notes string `json:"admin_notes"`
}

type bulkAdjustmentBody struct {
	Items []adjustmentRequest `json:"items"`
	Notes string              `json:"admin_notes"`
}

type revertBody struct {
	Reason string `json:"reason"`
}

// bulkItemDTO reports one bulk item with its error rendered.
type bulkItemDTO struct {
	Index      int                  `json:"index"`
	ExternalID string               `json:"external_id"`
	Success    bool                 `json:"success"`
	Adjustment *wager.Adjustment    `json:"adjustment,omitempty"`
	Stats      *wager.ComputedStats `json:"computed_stats,omitempty"`
	Error      *APIError            `json:"error,omitempty"`
}

func (s *Server) auditMeta(c *gin.Context, notes string) wager.AuditMeta {
	return wager.AuditMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Notes:     notes,
	}
}

func (s *Server) handleCreateAdjustment(c *gin.Context) {
	var body createAdjustmentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, shared.Validationf("http", "CreateAdjustment", "invalid body: %v", err))
		return
	}
	req, err := body.toDomain()
	if err != nil {
		writeError(c, err)
		return
	}

	result, err := s.deps.Ledger.CreateAdjustment(c.Request.Context(), command.CreateAdjustmentCommand{
		Request: req,
		AdminID: c.GetString(adminIDKey),
		Meta:    s.auditMeta(c, body.Notes),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, result)
}

func (s *Server) handleBulkAdjustments(c *gin.Context) {
	var body bulkAdjustmentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, shared.Validationf("http", "CreateBulkAdjustments", "invalid body: %v", err))
		return
	}
	if len(body.Items) > command.MaxBulkItems {
		writeError(c, shared.Validationf("http", "CreateBulkAdjustments", "at most %d items per request", command.MaxBulkItems))
		return
	}

	// Items that fail to parse are reported alongside the ledger's results.
	items := make([]wager.AdjustmentRequest, 0, len(body.Items))
	indexes := make([]int, 0, len(body.Items))
	out := make([]bulkItemDTO, len(body.Items))
	failed := 0
	for i, raw := range body.Items {
		req, err := raw.toDomain()
		if err != nil {
			out[i] = bulkItemDTO{Index: i, ExternalID: raw.ExternalID, Error: apiError(err)}
			failed++
			continue
		}
		items = append(items, req)
		indexes = append(indexes, i)
	}

	if len(items) > 0 || len(body.Items) == 0 {
		result, err := s.deps.Ledger.CreateBulkAdjustments(c.Request.Context(), items, c.GetString(adminIDKey), s.auditMeta(c, body.Notes))
		if err != nil {
			writeError(c, err)
			return
		}
		for _, item := range result.Items {
			i := indexes[item.Index]
			dto := bulkItemDTO{
				Index:      i,
				ExternalID: item.ExternalID,
				Success:    item.Err == nil,
				Adjustment: item.Adjustment,
				Stats:      item.Stats,
			}
			if item.Err != nil {
				dto.Error = apiError(item.Err)
				failed++
			}
			out[i] = dto
		}
	}

	writeJSON(c, http.StatusOK, gin.H{
		"items":     out,
		"succeeded": len(body.Items) - failed,
		"failed":    failed,
	})
}

func apiError(err error) *APIError {
	if StatusFor(err) == http.StatusInternalServerError {
		return &APIError{Code: string(shared.KindInternal), Message: "an unexpected error occurred"}
	}
	return &APIError{Code: string(shared.KindOf(err)), Message: err.Error()}
}

func (s *Server) handleRevertAdjustment(c *gin.Context) {
	var body revertBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, shared.Validationf("http", "RevertAdjustment", "invalid body: %v", err))
		return
	}

	result, err := s.deps.Ledger.RevertAdjustment(c.Request.Context(), command.RevertAdjustmentCommand{
		AdjustmentID: c.Param("id"),
		Reason:       body.Reason,
		AdminID:      c.GetString(adminIDKey),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, result)
}

func (s *Server) handleSearchAdjustments(c *gin.Context) {
	filter, err := parseAdjustmentFilter(c)
	if err != nil {
		writeError(c, err)
		return
	}

	page, err := s.deps.SearchAdjustments.Handle(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSONWithMeta(c, http.StatusOK, page.Items, &ResponseMeta{
		TotalCount: page.Total,
		Page:       page.Page,
		PageSize:   page.PageSize,
	})
}

func parseAdjustmentFilter(c *gin.Context) (wager.AdjustmentFilter, error) {
	const op = "SearchAdjustments"
	f := wager.AdjustmentFilter{
		AdminID:    c.Query("admin_id"),
		ExternalID: c.Query("external_id"),
		Status:     wager.AdjustmentStatus(c.Query("status")),
		Type:       wager.AdjustmentType(c.Query("type")),
	}

	if v := c.Query("timeframe"); v != "" {
		tf, err := wager.ParseTimeframe(v)
		if err != nil {
			return f, shared.Validationf("http", op, "%v", err)
		}
		f.Timeframe = tf
	}
	for key, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		if v := c.Query(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, shared.Validationf("http", op, "%s must be RFC3339", key)
			}
			*dst = &t
		}
	}

	var err error
	if f.Page, err = intQuery(c, "page", 1); err != nil {
		return f, err
	}
	if f.PageSize, err = intQuery(c, "page_size", wager.DefaultPageSize); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Server) handleUserAdjustments(c *gin.Context) {
	includeReverted, _ := strconv.ParseBool(c.DefaultQuery("include_reverted", "true"))

	result, err := s.deps.UserAdjustments.Handle(c.Request.Context(), query.GetUserAdjustmentsQuery{
		ExternalID:      c.Param("externalId"),
		IncludeReverted: includeReverted,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, result)
}

func (s *Server) handleStatistics(c *gin.Context) {
	stats, err := s.deps.AdjustmentStatistics.Handle(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, stats)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS & LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleComputedStats(c *gin.Context) {
	result, err := s.deps.ComputedStats.Handle(c.Request.Context(), query.GetComputedStatsQuery{
		ExternalID: c.Param("externalId"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, result)
}

func (s *Server) handleLeaderboard(c *gin.Context) {
	tf, err := wager.ParseTimeframe(c.Param("timeframe"))
	if err != nil {
		writeError(c, shared.Validationf("http", "GetLeaderboard", "%v", err))
		return
	}
	limit, err := intQuery(c, "limit", query.DefaultLeaderboardLimit)
	if err != nil {
		writeError(c, err)
		return
	}

	result, err := s.deps.Leaderboard.Handle(c.Request.Context(), query.GetLeaderboardQuery{Timeframe: tf, Limit: limit})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// SYNC & RANKINGS
// ══════════════════════════════════════════════════════════════════════════════

// handleSyncAll runs a full sync of one timeframe, or of every timeframe in
// order when none is given. The first failing timeframe ends the request.
func (s *Server) handleSyncAll(c *gin.Context) {
	tfs := wager.Timeframes
	if v := c.Query("timeframe"); v != "" {
		tf, err := wager.ParseTimeframe(v)
		if err != nil {
			writeError(c, shared.Validationf("http", "SyncAllUsers", "%v", err))
			return
		}
		tfs = []wager.Timeframe{tf}
	}

	logs := make([]*wager.SyncLog, 0, len(tfs))
	for _, tf := range tfs {
		log, err := s.deps.Sync.SyncAllUsers(c.Request.Context(), tf)
		if err != nil {
			writeError(c, err)
			return
		}
		logs = append(logs, log)
	}
	writeJSON(c, http.StatusOK, logs)
}

func (s *Server) handleSyncUser(c *gin.Context) {
	tf, err := wager.ParseTimeframe(c.DefaultQuery("timeframe", string(wager.AllTime)))
	if err != nil {
		writeError(c, shared.Validationf("http", "SyncUser", "%v", err))
		return
	}

	externalID := c.Param("externalId")
	stats, err := s.deps.Sync.SyncUser(c.Request.Context(), externalID, tf)
	if err != nil {
		writeError(c, err)
		return
	}
	if stats == nil {
		writeError(c, shared.NewDomainError("http", "SyncUser", shared.ErrNotFound,
			"user "+externalID+" is not in the "+string(tf)+" feed"))
		return
	}
	writeJSON(c, http.StatusOK, stats)
}

func (s *Server) handleSyncLogs(c *gin.Context) {
	limit, err := intQuery(c, "limit", query.DefaultSyncLogLimit)
	if err != nil {
		writeError(c, err)
		return
	}
	logs, err := s.deps.SyncLogs.Handle(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, logs)
}

func (s *Server) handleRecalculateRankings(c *gin.Context) {
	var tf *wager.Timeframe
	if v := c.Query("timeframe"); v != "" {
		parsed, err := wager.ParseTimeframe(v)
		if err != nil {
			writeError(c, shared.Validationf("http", "RecalculateAllRankings", "%v", err))
			return
		}
		tf = &parsed
	}

	results, err := s.deps.Rankings.RecalculateAllRankings(c.Request.Context(), tf)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, results)
}

// ══════════════════════════════════════════════════════════════════════════════
// JOBS
// ══════════════════════════════════════════════════════════════════════════════

// DefaultJobHistoryLimit is the number of recent runs listed by GET /jobs.
const DefaultJobHistoryLimit = 20

type jobRunDTO struct {
	Job         string    `json:"job"`
	Success     bool      `json:"success"`
	Manual      bool      `json:"manual"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
}

func toJobRunDTO(r *scheduler.JobResult, err error) jobRunDTO {
	dto := jobRunDTO{
		Job:         r.JobName,
		Success:     r.Success,
		Manual:      r.Manual,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		DurationMs:  r.Duration.Milliseconds(),
	}
	if err == nil {
		err = r.Error
	}
	if err != nil {
		dto.Error = err.Error()
	}
	return dto
}

type jobDTO struct {
	scheduler.JobInfo
	LastResult *jobRunDTO `json:"last_result,omitempty"`
}

func toJobDTO(info scheduler.JobInfo) jobDTO {
	dto := jobDTO{JobInfo: info}
	if info.LastResult != nil {
		last := toJobRunDTO(info.LastResult, nil)
		dto.LastResult = &last
	}
	return dto
}

func (s *Server) handleListJobs(c *gin.Context) {
	limit, err := intQuery(c, "history", DefaultJobHistoryLimit)
	if err != nil {
		writeError(c, err)
		return
	}

	infos := s.deps.Jobs.ListJobs()
	jobs := make([]jobDTO, 0, len(infos))
	for _, info := range infos {
		jobs = append(jobs, toJobDTO(info))
	}

	results := s.deps.Jobs.GetHistory(limit)
	history := make([]jobRunDTO, 0, len(results))
	for i := range results {
		history = append(history, toJobRunDTO(&results[i], nil))
	}

	writeJSON(c, http.StatusOK, gin.H{
		"jobs":    jobs,
		"metrics": s.deps.Jobs.GetMetrics().Snapshot(),
		"history": history,
	})
}

func (s *Server) handleGetJob(c *gin.Context) {
	info, err := s.deps.Jobs.GetJobInfo(c.Param("name"))
	if err != nil {
		writeError(c, jobError(err))
		return
	}
	writeJSON(c, http.StatusOK, toJobDTO(*info))
}

func (s *Server) handleRunJob(c *gin.Context) {
	result, err := s.deps.Jobs.RunNow(c.Request.Context(), c.Param("name"))
	if result == nil && err != nil {
		writeError(c, jobError(err))
		return
	}
	writeJSON(c, http.StatusOK, toJobRunDTO(result, err))
}

func jobError(err error) error {
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		return shared.WrapError("http", "RunJob", shared.ErrNotFound, "unknown job", err)
	case errors.Is(err, scheduler.ErrJobRunning):
		return shared.WrapError("http", "RunJob", shared.ErrConcurrentModification, "job is already running", err)
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func intQuery(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, shared.Validationf("http", "query", "%s must be an integer", key)
	}
	return n, nil
}
