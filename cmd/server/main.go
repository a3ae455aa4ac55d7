package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zerologlog "github.com/rs/zerolog/log"

	openaiprovider "github.com/equa-app/truthkeeper/internal/ai/openai"
	"github.com/equa-app/truthkeeper/internal/config"
	"github.com/equa-app/truthkeeper/internal/mediator"
	"github.com/equa-app/truthkeeper/internal/models"
	"github.com/equa-app/truthkeeper/internal/pairing"
	"github.com/equa-app/truthkeeper/internal/session"
	"github.com/equa-app/truthkeeper/internal/store"
	"github.com/equa-app/truthkeeper/internal/tokens"
	"github.com/equa-app/truthkeeper/internal/ws"
	staticserver "github.com/equa-app/truthkeeper/static"
)

const version = "v1.0.0-dev"

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		portFlag    = flag.String("port", "", "Port to listen on (overrides PORT env var)")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(`TruthKeeper - guided relationship mediation backend

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     Port to listen on (default: 8080 or PORT env var)

Environment Variables:
  PORT                Port to listen on (default: 8080)
  DB_PATH             SQLite database path (default: ./data/truthkeeper.db)
  DEVICE_ID_PATH      Persisted device identifier path (default: ./data/device_id)
  OPENAI_API_KEY      OpenAI API key (required for live mediation)
  OPENAI_BASE_URL     Custom OpenAI-compatible API base URL (optional)
  DEFAULT_MODEL       Model for mediation calls (default: gpt-4o)
  POLL_INTERVAL       Sync event poll interval (default: 1s)
  EVENT_WINDOW        Sync event look-back window (default: 5s)
  EXPORT_ENABLED      Write session transcripts to file (default: true)
  EXPORT_FILE         Transcript file path (default: ./truthkeeper-transcripts.txt)

Examples:
  %s                  Start server with default settings
  %s --port 3000      Start server on port 3000
`, os.Args[0], os.Args[0], os.Args[0])
		return
	}

	if *showVersion {
		fmt.Printf("TruthKeeper %s\n", version)
		return
	}

	// .env is optional
	_ = godotenv.Load()

	cfg := config.FromEnv()

	port := *portFlag
	if port == "" {
		port = cfg.Port
	}

	// zerolog setup (human-friendly console)
	zerolog.TimeFieldFormat = time.RFC3339
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	zerologlog.Logger = zerologlog.Output(cw)
	logger := zerologlog.Logger

	// Gin setup with custom logger (skip /socket.io noise)
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		status := c.Writer.Status()
		dur := time.Since(start)
		logger.Info().Str("path", path).Int("status", status).Dur("dur", dur).Msg("http")
	})

	// Healthcheck
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})

	// Storage
	st, err := store.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	deviceID, err := pairing.LoadOrCreateDeviceID(cfg.DeviceIDPath)
	if err != nil {
		log.Fatal(err)
	}

	// Core components
	mgr := session.NewManager(st, logger)
	pair := pairing.NewService(st, deviceID, logger,
		pairing.WithPollInterval(cfg.PollInterval),
		pairing.WithEventWindow(cfg.EventWindow))
	ledger := tokens.NewLedger(st, logger)

	provider := openaiprovider.New(cfg.OpenAIKey, cfg.OpenAIBaseURL)
	med := mediator.New(provider, cfg.DefaultModel, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pair.StartPolling(ctx)

	// Socket.IO relay for browser clients
	sock := ws.New(pair)
	io := sock.Mount(r)
	defer io.Close()

	// Mirror journey steps into the pairing record when paired.
	mgr.Subscribe(func() {
		if pair.Role() == models.RoleNone {
			return
		}
		if err := pair.UpdateStep(mgr.Step()); err != nil && !errors.Is(err, pairing.ErrNoPairSession) {
			logger.Warn().Err(err).Msg("failed to mirror step")
		}
	})

	api := r.Group("/api")

	// Pairing
	api.POST("/pair/create", func(c *gin.Context) {
		var req struct {
			NameA string `json:"nameA" binding:"required"`
			NameB string `json:"nameB" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		code, err := pair.CreateSession(req.NameA, req.NameB)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"joinCode": code})
	})

	api.POST("/pair/join", func(c *gin.Context) {
		var req struct {
			JoinCode string `json:"joinCode" binding:"required"`
			Name     string `json:"name" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		sess, err := pair.JoinSession(strings.ToUpper(req.JoinCode), req.Name)
		if err != nil {
			if errors.Is(err, pairing.ErrCodeNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "code_not_found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": sess, "role": pair.Role()})
	})

	api.GET("/pair/session", func(c *gin.Context) {
		sess := pair.CurrentSession()
		if sess == nil {
			c.Status(http.StatusNotFound)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session": sess,
			"role":    pair.Role(),
			"partner": pair.PartnerInfo(),
		})
	})

	api.POST("/pair/speaker", func(c *gin.Context) {
		var req struct {
			Speaker string `json:"speaker"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		if err := pair.UpdateSpeaker(models.Role(req.Speaker)); err != nil {
			pairError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api.POST("/pair/data", func(c *gin.Context) {
		var req struct {
			Field string `json:"field" binding:"required"`
			Value string `json:"value"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		if err := pair.UpdateShared(pairing.SharedField(req.Field), req.Value); err != nil {
			pairError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api.POST("/pair/notify", func(c *gin.Context) {
		var req struct {
			Message string `json:"message" binding:"required"`
			Type    string `json:"type"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		if req.Type == "" {
			req.Type = "info"
		}
		if err := pair.SendNotification(req.Message, req.Type); err != nil {
			pairError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	// Journey state machine
	api.GET("/journey", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"step":     mgr.Step(),
			"partners": mgr.Partners(),
			"session":  mgr.Session(),
			"darkMode": mgr.DarkMode(),
		})
	})

	api.POST("/journey/step", func(c *gin.Context) {
		var req struct {
			Step string `json:"step" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		if err := mgr.SetStep(models.Step(req.Step)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"step": mgr.Step()})
	})

	api.POST("/journey/partners", func(c *gin.Context) {
		var req struct {
			A models.Partner `json:"a" binding:"required"`
			B models.Partner `json:"b" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		if err := mgr.SetPartners(req.A, req.B); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"partners": mgr.Partners()})
	})

	api.POST("/journey/start", func(c *gin.Context) {
		sess, err := mgr.StartSession()
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		med.Reset()
		c.JSON(http.StatusOK, gin.H{"session": sess})
	})

	api.POST("/journey/truth", func(c *gin.Context) {
		var req struct {
			PartnerID string `json:"partnerId" binding:"required"`
			Text      string `json:"text" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		stmt, err := mgr.AddTruthStatement(req.PartnerID, req.Text)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if _, err := ledger.Earn(tokens.ReasonTruthStatement, "Truth statement shared"); err != nil {
			logger.Warn().Err(err).Msg("token earn failed")
		}

		// Verification happens out of band: the statement is acknowledged by
		// the mediator and flagged verified whether the call succeeds or not.
		go func(stmt models.TruthStatement) {
			vctx, vcancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer vcancel()
			speaker, partner, previous := truthContext(mgr, stmt)
			resp := med.ProcessTruthStatement(vctx, stmt.Text, speaker, partner, previous)
			if err := mgr.MarkVerified(stmt.ID, resp.Content); err != nil {
				logger.Warn().Err(err).Str("statement", stmt.ID).Msg("failed to mark statement verified")
			}
		}(stmt)

		c.JSON(http.StatusOK, gin.H{"statement": stmt})
	})

	api.POST("/journey/qualia", func(c *gin.Context) {
		var req struct {
			PartnerID string `json:"partnerId" binding:"required"`
			Valence   int    `json:"valence"`
			Arousal   int    `json:"arousal"`
			BodyZone  string `json:"bodyZone" binding:"required"`
			Metaphor  string `json:"metaphor"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		ev, err := mgr.AddQualiaEvent(req.PartnerID, req.Valence, req.Arousal, req.BodyZone, req.Metaphor)
		if err != nil {
			if errors.Is(err, session.ErrNoActiveSession) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, err := ledger.Earn(tokens.ReasonQualiaMapping, "Qualia mapping recorded"); err != nil {
			logger.Warn().Err(err).Msg("token earn failed")
		}
		c.JSON(http.StatusOK, gin.H{"event": ev})
	})

	api.POST("/journey/agreement", func(c *gin.Context) {
		var req struct {
			Text     string   `json:"text" binding:"required"`
			SignedBy []string `json:"signedBy" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		ag, err := mgr.AddAgreement(req.Text, req.SignedBy)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if _, err := ledger.Earn(tokens.ReasonAgreement, "Agreement signed"); err != nil {
			logger.Warn().Err(err).Msg("token earn failed")
		}
		c.JSON(http.StatusOK, gin.H{"agreement": ag})
	})

	api.POST("/journey/complete", func(c *gin.Context) {
		sess := mgr.Session()
		if sess == nil {
			c.JSON(http.StatusConflict, gin.H{"error": session.ErrNoActiveSession.Error()})
			return
		}
		if cfg.ExportEnabled {
			if err := session.ExportTranscript(sess, cfg.ExportFile); err != nil {
				logger.Warn().Err(err).Msg("transcript export failed")
			}
		}
		if _, err := ledger.Earn(tokens.ReasonSessionCompletion, "Mediation session completed"); err != nil {
			logger.Warn().Err(err).Msg("token earn failed")
		}
		if err := mgr.SetStep(models.StepSuccess); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"step": mgr.Step()})
	})

	api.POST("/journey/reset", func(c *gin.Context) {
		if err := mgr.Reset(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		med.Reset()
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	// Mediation
	api.POST("/mediate/analyze", func(c *gin.Context) {
		var req struct {
			Description string `json:"description" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		nameA, nameB := partnerNames(mgr)
		c.JSON(http.StatusOK, med.AnalyzeConflict(c.Request.Context(), req.Description, nameA, nameB))
	})

	api.POST("/mediate/facilitate", func(c *gin.Context) {
		sess := mgr.Session()
		if sess == nil {
			c.JSON(http.StatusConflict, gin.H{"error": session.ErrNoActiveSession.Error()})
			return
		}
		statements := make([]mediator.Attributed, 0, len(sess.TruthStatements))
		for _, st := range sess.TruthStatements {
			statements = append(statements, mediator.Attributed{
				Speaker: displayName(sess, st.PartnerID),
				Text:    st.Text,
			})
		}
		nameA, nameB := sess.Partners[0].Name, sess.Partners[1].Name
		c.JSON(http.StatusOK, med.FacilitateMediation(c.Request.Context(), statements, nameA, nameB))
	})

	api.POST("/mediate/reframe", func(c *gin.Context) {
		var req struct {
			Statement string `json:"statement" binding:"required"`
			Speaker   string `json:"speaker" binding:"required"`
			Context   string `json:"context"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		c.JSON(http.StatusOK, med.SuggestReframe(c.Request.Context(), req.Statement, req.Speaker, req.Context))
	})

	api.POST("/mediate/forgive", func(c *gin.Context) {
		var req struct {
			Offense  string `json:"offense" binding:"required"`
			Offender string `json:"offender" binding:"required"`
			Victim   string `json:"victim" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		c.JSON(http.StatusOK, med.GuideForgiveness(c.Request.Context(), req.Offense, req.Offender, req.Victim))
	})

	// Tokens
	api.GET("/tokens", func(c *gin.Context) {
		total, earned, spent := ledger.Balance()
		c.JSON(http.StatusOK, gin.H{
			"total":        total,
			"earned":       earned,
			"spent":        spent,
			"achievements": ledger.Achievements(),
		})
	})

	api.GET("/tokens/transactions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"transactions": ledger.Transactions()})
	})

	// Serve the status page for all other routes
	r.NoRoute(func(c *gin.Context) {
		staticserver.Handler().ServeHTTP(c.Writer, c.Request)
	})

	log.Printf("listening on :%s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal(err)
	}
}

func pairError(c *gin.Context, err error) {
	if errors.Is(err, pairing.ErrNoPairSession) {
		c.JSON(http.StatusConflict, gin.H{"error": "no_pair_session"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func partnerNames(mgr *session.Manager) (string, string) {
	partners := mgr.Partners()
	nameA, nameB := "Partner A", "Partner B"
	if partners[0] != nil {
		nameA = partners[0].Name
	}
	if partners[1] != nil {
		nameB = partners[1].Name
	}
	return nameA, nameB
}

func displayName(sess *models.ConflictSession, partnerID string) string {
	for _, p := range sess.Partners {
		if p.ID == partnerID {
			return p.Name
		}
	}
	return partnerID
}

func truthContext(mgr *session.Manager, stmt models.TruthStatement) (speaker, partner string, previous []string) {
	sess := mgr.Session()
	speaker, partner = "Partner A", "Partner B"
	if sess == nil {
		return speaker, partner, nil
	}
	if sess.Partners[0].ID == stmt.PartnerID {
		speaker, partner = sess.Partners[0].Name, sess.Partners[1].Name
	} else {
		speaker, partner = sess.Partners[1].Name, sess.Partners[0].Name
	}
	for _, st := range sess.TruthStatements {
		if st.ID != stmt.ID {
			previous = append(previous, st.Text)
		}
	}
	return speaker, partner, previous
}
