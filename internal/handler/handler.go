package handler

import (
	"context"
	"errors"
	"log"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"classkiosk/internal/attendance"
	"classkiosk/internal/auth"
	"classkiosk/internal/queue"
	"classkiosk/internal/session"
)

// ReportStore reads archived reports.
type ReportStore interface {
	GetReport(ctx context.Context, sessionID string) (*attendance.Report, error)
	ListReports(ctx context.Context, limit, offset int) ([]attendance.ReportSummary, error)
}

// Options carries the settings the handlers need from config.
type Options struct {
	AdminPassword  string
	JWTIssuer      string
	JWTSigningKey  string
	AccessTTL      time.Duration
	ReportLocation *time.Location
}

type Handler struct {
	session *session.Controller
	roster  *attendance.Aggregator
	queue   queue.Queue
	reports ReportStore // nil when the archive is disabled
	opts    Options
	now     func() time.Time
}

func New(ctl *session.Controller, roster *attendance.Aggregator, q queue.Queue, reports ReportStore, opts Options) *Handler {
	if opts.ReportLocation == nil {
		opts.ReportLocation = time.Local
	}
	return &Handler{session: ctl, roster: roster, queue: q, reports: reports, opts: opts, now: time.Now}
}

// Register mounts the kiosk API on r.
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.POST("/admin/login", h.Login)

	// student-facing display and card reader intake
	v1.GET("/session", h.GetSession)
	v1.GET("/roster", h.GetRoster)
	v1.POST("/events", h.PostEvent)
	v1.GET("/events/last", h.GetLastEvent)

	teacher := v1.Group("", auth.RequireRole(h.opts.JWTSigningKey, h.opts.JWTIssuer, auth.RoleTeacher))
	teacher.PUT("/session", h.ConfigureSession)
	teacher.POST("/session/start", h.StartSession)
	teacher.POST("/session/end", h.EndSession)
	teacher.GET("/session/report.csv", h.DownloadCurrentReport)
	teacher.GET("/reports", h.ListReports)
	teacher.GET("/reports/:id/report.csv", h.DownloadArchivedReport)
}

// ---------- Admin ----------

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bindError(err))
		return
	}
	if !auth.CheckPassword(req.Password, h.opts.AdminPassword) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
		return
	}
	tok, err := auth.Issue("admin", auth.RoleTeacher, h.opts.JWTIssuer, h.opts.JWTSigningKey, h.opts.AccessTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok.AccessToken, "expires_at": tok.ExpiresAt.Unix()})
}

// ---------- Session ----------

type configureRequest struct {
	Title             string `json:"title"`
	DurationMinutes   int    `json:"duration_minutes" binding:"required,min=1"`
	ExpectedHeadcount *int   `json:"expected_headcount" binding:"omitempty,min=0"`
}

// ConfigureSession sets title, duration and headcount. An omitted headcount
// keeps the previous one.
func (h *Handler) ConfigureSession(c *gin.Context) {
	var req configureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bindError(err))
		return
	}
	st := session.Settings{
		Title:             req.Title,
		DurationMinutes:   req.DurationMinutes,
		ExpectedHeadcount: h.session.State().Settings.ExpectedHeadcount,
	}
	if req.ExpectedHeadcount != nil {
		st.ExpectedHeadcount = *req.ExpectedHeadcount
	}
	if err := h.session.Configure(c.Request.Context(), st); err != nil {
		sessionError(c, err)
		return
	}
	h.GetSession(c)
}

func (h *Handler) StartSession(c *gin.Context) {
	if err := h.session.Start(c.Request.Context()); err != nil {
		sessionError(c, err)
		return
	}
	h.GetSession(c)
}

func (h *Handler) EndSession(c *gin.Context) {
	rep, err := h.session.End(c.Request.Context())
	if err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": rep, "stats": rep.Stats()})
}

func (h *Handler) GetSession(c *gin.Context) {
	st := h.session.State()
	stats, err := h.roster.Stats(c.Request.Context(), st.Settings.ExpectedHeadcount)
	if err != nil {
		log.Printf("roster stats failed: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"session": st, "stats": stats, "last_event": h.lastFeedback(c)})
}

func (h *Handler) GetRoster(c *gin.Context) {
	records, err := h.roster.Records(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	stats := attendance.CurrentStats(len(records), h.session.State().Settings.ExpectedHeadcount)
	c.JSON(http.StatusOK, gin.H{"records": records, "stats": stats})
}

// ---------- Card reader ----------

type eventRequest struct {
	Type      string              `json:"type" binding:"required"`
	Success   bool                `json:"success"`
	Status    string              `json:"status"`
	Student   *attendance.Student `json:"student"`
	Timestamp string              `json:"timestamp"`
	Message   string              `json:"message"`
}

// PostEvent queues a card reader event. Events the roster does not count
// are still accepted; the aggregator decides what to ignore.
func (h *Handler) PostEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bindError(err))
		return
	}
	msg, err := attendance.NewMessage(attendance.Event(req))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.queue.Publish(c.Request.Context(), msg); err != nil {
		log.Printf("queue publish failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event queue unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

// GetLastEvent returns the feedback of the latest tap, or 204 before the
// first one of a session.
func (h *Handler) GetLastEvent(c *gin.Context) {
	fb := h.lastFeedback(c)
	if fb == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, gin.H{"last_event": fb})
}

func (h *Handler) lastFeedback(c *gin.Context) *attendance.Feedback {
	fb, ok, err := h.roster.LastFeedback(c.Request.Context())
	if err != nil {
		log.Printf("read tap feedback failed: %v", err)
		return nil
	}
	if !ok {
		return nil
	}
	return &fb
}

// ---------- Reports ----------

func (h *Handler) DownloadCurrentReport(c *gin.Context) {
	rep, ok := h.session.Report()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no ended session"})
		return
	}
	h.writeCSV(c, rep)
}

func (h *Handler) ListReports(c *gin.Context) {
	if h.reports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "report archive not configured"})
		return
	}
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	list, err := h.reports.ListReports(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": list})
}

func (h *Handler) DownloadArchivedReport(c *gin.Context) {
	if h.reports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "report archive not configured"})
		return
	}
	rep, err := h.reports.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rep == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	h.writeCSV(c, *rep)
}

func (h *Handler) writeCSV(c *gin.Context, rep attendance.Report) {
	name := attendance.ExportFileName(h.now().In(h.opts.ReportLocation), rep.Title)
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	c.Status(http.StatusOK)
	if err := attendance.WriteCSV(c.Writer, rep.Rows()); err != nil {
		log.Printf("write csv failed: %v", err)
	}
}

// ---------- Errors ----------

func sessionError(c *gin.Context, err error) {
	var verr *session.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "fields": gin.H{verr.Field: verr.Reason}})
	case errors.Is(err, session.ErrRunning), errors.Is(err, session.ErrNotRunning), errors.Is(err, session.ErrNotConfigured):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Printf("session operation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session store unavailable"})
	}
}

func bindError(err error) gin.H {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return gin.H{"error": err.Error()}
	}
	fields := gin.H{}
	for _, fe := range verrs {
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		fields[toSnake(fe.Field())] = reason
	}
	return gin.H{"error": "validation failed", "fields": fields}
}

// toSnake maps Go field names to the JSON names clients send.
func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
