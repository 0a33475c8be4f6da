package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	qrcode "github.com/skip2/go-qrcode"

	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/ingest"
	"rollcall/internal/ledger"
	"rollcall/internal/queue"
	"rollcall/internal/schedule"
	"rollcall/internal/store"
	"rollcall/internal/token"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	sched, err := schedule.Load(cfg.ScheduleJSON, cfg.SchedulePath)
	if err != nil {
		// No schedule means no lectures and no tokens; refuse to start
		// rather than rotate against guessed state.
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var db *store.DB
	var pgLedger *ledger.Postgres
	var ledgerStore ledger.Store
	if cfg.LedgerBackend == "postgres" {
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		pgLedger = ledger.NewPostgres(db.Client)
		if err := pgLedger.Migrate(ctx); err != nil {
			return err
		}
		ledgerStore = pgLedger
	} else {
		ledgerStore = ledger.NewMemory()
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:scans")
	}

	rotator := token.NewRotator(sched, cfg.RotatePeriod, cfg.TokenGrace, nil)
	rotator.Start(ctx)

	scans := ingest.NewService(rotator, ledgerStore, q, cfg.LateThreshold)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db == nil || db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		_, active := rotator.Current()
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy, "lecture_active": active})
	})

	r.POST("/v1/auth/login", func(c *gin.Context) {
		var req struct {
			UserID string `json:"user_id" binding:"required"`
			Name   string `json:"name"`
			Role   string `json:"role" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tokens, err := auth.Issue(req.UserID, req.Name, req.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if pgLedger != nil {
			_ = pgLedger.SaveRefreshToken(c.Request.Context(), req.UserID, tokens.RefreshToken, tokens.RefreshExp)
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	r.GET("/v1/schedule", func(c *gin.Context) {
		now := time.Now()
		nowMinutes := now.Hour()*60 + now.Minute()
		type slotView struct {
			schedule.Slot
			Status string `json:"status"`
		}
		slots := sched.Slots()
		out := make([]slotView, 0, len(slots))
		for _, slot := range slots {
			status := "upcoming"
			switch {
			case nowMinutes >= slot.EndMinute():
				status = "completed"
			case nowMinutes >= slot.StartMinute:
				status = "current"
			}
			out = append(out, slotView{Slot: slot, Status: status})
		}
		c.JSON(http.StatusOK, gin.H{"slots": out})
	})

	r.GET("/v1/lectures/current", func(c *gin.Context) {
		session, ok := rotator.Session()
		if !ok {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"lecture_id": session.LectureID,
			"subject":    session.Slot.Subject,
			"room":       session.Slot.Room,
			"date":       session.Date,
			"start_at":   session.StartAt.Unix(),
			"end_at":     session.EndAt.Unix(),
		})
	})

	r.GET("/v1/lectures/current/token", func(c *gin.Context) {
		payload, ok := rotator.Current()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active lecture"})
			return
		}
		c.JSON(http.StatusOK, payload)
	})

	r.GET("/v1/lectures/current/qr.png", func(c *gin.Context) {
		payload, ok := rotator.Current()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active lecture"})
			return
		}
		png, err := qrcode.Encode(token.Encode(payload), qrcode.Medium, 256)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "qr render failed"})
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "image/png", png)
	})

	authGroup := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.POST("/auth/logout", func(c *gin.Context) {
		var req struct {
			RefreshToken string `json:"refresh_token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if pgLedger != nil {
			if err := pgLedger.RevokeRefreshToken(c.Request.Context(), req.RefreshToken); err != nil {
				log.Printf("logout: revoke refresh token: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "could not revoke token"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
	})

	authGroup.POST("/scans", func(c *gin.Context) {
		var req struct {
			DecodedText string `json:"decoded_text" binding:"required"`
			StudentID   string `json:"student_id"`
			StudentName string `json:"student_name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		claims, _ := auth.FromContext(c)
		if claims.Role == auth.RoleStudent {
			if req.StudentID == "" {
				req.StudentID = claims.Subject
			}
			if req.StudentID != claims.Subject {
				c.JSON(http.StatusForbidden, gin.H{"error": "student mismatch"})
				return
			}
			if req.StudentName == "" {
				req.StudentName = claims.Name
			}
		}

		result, err := scans.Submit(c.Request.Context(), req.DecodedText, req.StudentID, req.StudentName, time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger write failed"})
			return
		}
		if !result.Accepted {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"accepted": false,
				"reason":   result.Reason,
				"error":    result.Reason.Message(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"accepted": true, "record": result.Record})
	})

	teacherGroup := authGroup.Group("", auth.RequireRole(auth.RoleTeacher))

	teacherGroup.GET("/lectures/:lectureID/roster", func(c *gin.Context) {
		lectureID := c.Param("lectureID")
		records, err := ledgerStore.ByLecture(c.Request.Context(), lectureID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		counts, err := ledgerStore.Counts(c.Request.Context(), lectureID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records, "counts": counts})
	})

	teacherGroup.POST("/lectures/:lectureID/absences", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec, err := ledgerStore.MarkAbsent(c.Request.Context(), req.StudentID, c.Param("lectureID"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"record": rec})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	// Stop rotation first so no token outlives the display.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
