package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/rawblock/fedobserver/internal/aggregation"
	"github.com/rawblock/fedobserver/internal/decoder"
	"github.com/rawblock/fedobserver/internal/federationreg"
	"github.com/rawblock/fedobserver/internal/fedtypes"
	fedobsnostr "github.com/rawblock/fedobserver/internal/nostr"
	"github.com/rawblock/fedobserver/internal/processor"
	"github.com/rawblock/fedobserver/internal/store"
	"github.com/sirupsen/logrus"
)

// Dependencies are the shared handles the façade's handlers are built
// over — the same "thread shared resources into the constructor" idiom
// internal/observer uses, applied to internal/api.
type Dependencies struct {
	Aggregation    *aggregation.Service
	Registry       *federationreg.Registry
	Store          *store.Store
	Hub            *Hub
	Nostr          *fedobsnostr.Synchroniser
	DecoderFactory decoder.Factory
	AdminSecret    string
	Log            *logrus.Entry
}

type APIHandler struct {
	deps Dependencies
}

// SetupRouter builds the thin HTTP/JSON façade over the aggregation,
// federation-registry and backfill operations (spec §6). Grounded on the
// teacher's internal/api/routes.go: a single router-construction function,
// a handler struct closing over shared dependencies, a public group and an
// authenticated admin group.
func SetupRouter(deps Dependencies) *gin.Engine {
	r := gin.Default()
	h := &APIHandler{deps: deps}

	pubLimiter := NewRateLimiter(60, 10, ByIP, "60 requests/minute per IP")
	adminLimiter := NewRateLimiter(120, 20, ByAdminToken, "120 requests/minute per admin token")
	backfillLimiter := NewRateLimiter(6, 2, ByFederationBackfill, "6 backfills/minute per federation")

	pub := r.Group("/")
	pub.Use(pubLimiter.Middleware())
	{
		pub.GET("/stream", deps.Hub.Subscribe)
		pub.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

		pub.GET("/federations", h.listFederations)
		pub.GET("/federations/totals", h.totals)
		pub.GET("/federations/:id", h.federationSummary)
		pub.GET("/federations/:id/config", h.federationConfig)
		pub.GET("/federations/:id/meta", h.federationMeta)
		pub.GET("/federations/:id/health", h.federationHealth)
		pub.GET("/federations/:id/utxos", h.federationUTXOs)
		pub.GET("/federations/:id/activity", h.federationActivity)
		pub.GET("/federations/:id/transactions", h.listTransactions)
		pub.GET("/federations/:id/transactions/count", h.countTransactions)
		pub.GET("/federations/:id/transactions/histogram", h.transactionHistogram)
		pub.GET("/federations/:id/transactions/:txid", h.getTransaction)
		pub.GET("/federations/:id/sessions", h.listSessions)
		pub.GET("/federations/:id/sessions/count", h.countSessions)

		pub.GET("/nostr/federations", h.listNostrFederations)
		pub.GET("/config/:invite/:field", h.inspectInvite)
	}

	admin := r.Group("/")
	admin.Use(adminLimiter.Middleware())
	admin.Use(AdminAuthMiddleware(deps.AdminSecret))
	{
		admin.PUT("/federations", h.addFederation)
		admin.POST("/federations/:id/backfill", backfillLimiter.Middleware(), h.backfill)
		admin.PUT("/federations/nostr/rating", h.publishRating)
		admin.PUT("/nostr/federations", h.publishAnnouncement)
	}

	return r
}

func parseFederationID(c *gin.Context) (fedtypes.FederationID, bool) {
	id, err := fedtypes.ParseHash32(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid federation id"})
		return fedtypes.FederationID{}, false
	}
	return id, true
}

func (h *APIHandler) listFederations(c *gin.Context) {
	feds, err := h.deps.Registry.ListFederations(c.Request.Context(), h.deps.Store.Pool())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	summaries := make([]aggregation.FederationSummary, 0, len(feds))
	for _, f := range feds {
		s, err := h.deps.Aggregation.FederationSummary(c.Request.Context(), f.ID)
		if err != nil {
			continue
		}
		summaries = append(summaries, s)
	}
	c.JSON(http.StatusOK, summaries)
}

func (h *APIHandler) federationSummary(c *gin.Context) {
	id, ok := parseFederationID(c)
	if !ok {
		return
	}
	summary, err := h.deps.Aggregation.FederationSummary(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *APIHandler) federationConfig(c *gin.Context) {
	id, ok := parseFederationID(c)
	if !ok {
		return
	}
	fed, err := h.deps.Registry.GetFederation(c.Request.Context(), h.deps.Store.Pool(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", fed.Config)
}

func (h *APIHandler) federationMeta(c *gin.Context) {
	id, ok := parseFederationID(c)
	if !ok {
		return
	}
	fed, err := h.deps.Registry.GetFederation(c.Request.Context(), h.deps.Store.Pool(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	meta, err := federationreg.MetaFromConfig(fed.Config)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (h *APIHandler) federationHealth(c *gin.Context) {
	id, ok := parseFederationID(c)
	if !ok {
		return
	}
	rows, err := h.deps.Aggregation.GuardianHealth(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *APIHandler) federationUTXOs(c *gin.Context) {
	id, ok := parseFederationID(c)
	if !ok {
		return
	}
	rows, err := h.deps.Aggregation.UTXOs(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *APIHandler) federationActivity(c *gin.Context) {
	id, ok := parseFederationID(c)
	if !ok {
		return
	}
	days, _ := strconv.Atoi(c.DefaultQuery("days", "7"))
	rows, err := h.deps.Aggregation.FederationActivity(c.Request.Context(), id, days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (h *APIHandler) listTransactions(c *gin.Context) {
	id, ok := parseFederationID(c)
	if !ok {
		return
	}
	limit, offset := pagination(c)
	rows, err := store.ListTransactions(c.Request.Context(), h.deps.Store.Pool(), id, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *APIHandler) countTransactions(c *gin.Context) {
	id, ok := parseFederationID(c)
	if !ok {
		return
	}
	count, err := store.CountTransactions(c.Request.Context(), h.deps.Store.Pool(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *APIHandler) transactionHistogram(c *gin.Context) {
	id, ok := parseFederationID(c)
	if !ok {
		return
	}
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	buckets, err := store.TransactionHistogram(c.Request.Context(), h.deps.Store.Pool(), id, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, buckets)
}

func (h *APIHandler) getTransaction(c *gin.Context) {
	id, ok := parseFederationID(c)
	if !ok {
		return
	}
	txid, err := fedtypes.ParseHash32(c.Param("txid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid txid"})
		return
	}
	row, err := store.GetTransaction(c.Request.Context(), h.deps.Store.Pool(), id, txid)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, row)
}

func (h *APIHandler) listSessions(c *gin.Context) {
	id, ok := parseFederationID(c)
	if !ok {
		return
	}
	limit, offset := pagination(c)
	rows, err := store.ListSessions(c.Request.Context(), h.deps.Store.Pool(), id, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *APIHandler) countSessions(c *gin.Context) {
	id, ok := parseFederationID(c)
	if !ok {
		return
	}
	count, err := store.SessionCount(c.Request.Context(), h.deps.Store.Pool(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *APIHandler) totals(c *gin.Context) {
	totals, err := h.deps.Aggregation.Totals(c.Request.Context(), h.deps.Log)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, totals)
}

func (h *APIHandler) addFederation(c *gin.Context) {
	var req struct {
		Invite string `json:"invite"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Invite == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": `expected {"invite": "fed1..."}`})
		return
	}

	fed, err := h.deps.Registry.AddFederation(c.Request.Context(), h.deps.Store.Pool(), req.Invite)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"federation_id": fed.ID.String()})
}

// backfill handles POST /federations/{id}/backfill (spec §6): it replays a
// session range through a freshly-built processor in the background and
// hands the caller a job id immediately, since a full federation replay can
// run far longer than an HTTP request is willing to wait.
func (h *APIHandler) backfill(c *gin.Context) {
	id, ok := parseFederationID(c)
	if !ok {
		return
	}

	var req struct {
		SessionStart *uint64 `json:"session_start"`
		SessionEnd   *uint64 `json:"session_end"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	start := uint64(0)
	if req.SessionStart != nil {
		start = *req.SessionStart
	}
	latest, err := store.LatestSessionIndex(c.Request.Context(), h.deps.Store.Pool(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if latest < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "federation has no stored sessions"})
		return
	}
	end := uint64(latest)
	if req.SessionEnd != nil {
		end = *req.SessionEnd
	}

	proc, err := h.buildProcessor(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	jobID := uuid.NewString()
	log := h.deps.Log.WithFields(logrus.Fields{"job_id": jobID, "federation": id.String()})
	go func() {
		if err := processor.ReprocessRange(context.Background(), h.deps.Store.Pool(), proc, id, start, end); err != nil {
			log.WithError(err).Error("backfill job failed")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "session_start": start, "session_end": end})
}

func (h *APIHandler) buildProcessor(ctx context.Context, fed fedtypes.FederationID) (*processor.Processor, error) {
	record, err := h.deps.Registry.GetFederation(ctx, h.deps.Store.Pool(), fed)
	if err != nil {
		return nil, err
	}
	modules, err := federationreg.ModulesFromConfig(record.Config)
	if err != nil {
		return nil, err
	}
	peers, err := federationreg.PeerCount(record.Config)
	if err != nil {
		return nil, err
	}
	reg, err := h.deps.DecoderFactory.ForFederation(modules)
	if err != nil {
		return nil, err
	}
	return processor.New(fed, peers, reg, h.deps.Store.Pool(), nil, h.deps.Log), nil
}

func (h *APIHandler) publishRating(c *gin.Context) {
	var ev nostr.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.deps.Nostr.PublishRating(c.Request.Context(), &ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *APIHandler) publishAnnouncement(c *gin.Context) {
	var ev nostr.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.deps.Nostr.PublishAnnouncement(c.Request.Context(), &ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *APIHandler) listNostrFederations(c *gin.Context) {
	rows, err := store.ListNostrFederations(c.Request.Context(), h.deps.Store.Pool())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

// inspectInvite backs GET /config/{invite}/{id|meta|module_kinds}: it lets
// an operator preview what add_federation would register, without
// registering it (spec §6).
func (h *APIHandler) inspectInvite(c *gin.Context) {
	parsed, err := federationreg.ParseInvite(c.Param("invite"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	raw, err := (federationreg.WSDownloader{}).DownloadConfig(c.Request.Context(), parsed.Endpoints)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	switch c.Param("field") {
	case "id":
		c.JSON(http.StatusOK, gin.H{"federation_id": federationreg.HashConfig(raw).String()})
	case "meta":
		meta, err := federationreg.MetaFromConfig(raw)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, meta)
	case "module_kinds":
		modules, err := federationreg.ModulesFromConfig(raw)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		// decoder.ModuleRegistry is keyed by a numeric instance id, which
		// encoding/json cannot use directly as a map key.
		out := make(map[string]fedtypes.ModuleKind, len(modules))
		for id, kind := range modules {
			out[strconv.Itoa(int(id))] = kind
		}
		c.JSON(http.StatusOK, out)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown field, expected id|meta|module_kinds"})
	}
}
