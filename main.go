package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	clerk "github.com/clerk/clerk-sdk-go/v2"
	gorilllaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stepSyncAPI/handlers"
	"stepSyncAPI/internal/notification"
	"stepSyncAPI/middleware"
	"stepSyncAPI/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	clerkSecretKey := os.Getenv("CLERK_SECRET_KEY")
	if clerkSecretKey == "" {
		log.Fatal("CLERK_SECRET_KEY environment variable is not set")
	}
	clerk.SetKey(clerkSecretKey)
	log.Println("Clerk initialized successfully")

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		log.Fatal("Failed to parse database URL:", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	dbPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Fatal("Failed to create connection pool:", err)
	}
	defer func() {
		log.Println("Closing database connection pool...")
		dbPool.Close()
	}()

	if err := dbPool.Ping(ctx); err != nil {
		log.Fatal("Failed to ping database:", err)
	}
	log.Println("Successfully connected to Postgres")

	inviteBaseURL := os.Getenv("INVITE_BASE_URL")
	if inviteBaseURL == "" {
		inviteBaseURL = "https://stepsync.app"
	}

	middleware.InitPrometheus()
	services.InitSyncMetrics()

	// Composition root: every service is constructed here and injected; there
	// are no package-level singletons.
	userService := services.NewUserService(dbPool)
	gateway := services.NewRecordGateway(dbPool)
	cache := services.NewPostgresChallengeCache(dbPool)
	syncService := services.NewSyncService(gateway, cache)
	dispatcher := services.NewChallengeDispatcher(syncService, userService)
	challengeService := services.NewChallengeService(gateway, cache, dispatcher, userService, inviteBaseURL)
	activityService := services.NewActivityService(dbPool, userService)

	fcmService, err := notification.NewFCMService("./serviceAccountKey.json")
	if err != nil {
		log.Printf("Warning: Could not initialize FCM: %v", err)
	} else {
		dispatcher.SetPushProvider(fcmService)
		log.Println("FCM Push Provider initialized successfully")
	}

	userHandler := handlers.NewUserHandler(userService)
	activityHandler := handlers.NewActivityHandler(activityService, challengeService, userService)
	challengeHandler := handlers.NewChallengeHandler(challengeService, syncService, userService)
	webhookHandler := handlers.NewWebhookHandler(userService)

	r := mux.NewRouter()

	go middleware.CleanupVisitors()

	r.Use(middleware.RateLimitMiddleware)
	r.Use(middleware.MonitorMiddleware)

	r.Handle("/metrics", middleware.BasicAuthMiddleware(promhttp.Handler()))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := dbPool.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "unhealthy", "error": "database connection failed"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "stepSync-api"}`))
	}).Methods("GET")

	r.HandleFunc("/webhooks/clerk", webhookHandler.HandleClerkWebhook).Methods("POST")

	api := r.PathPrefix("/api/v1").Subrouter()

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.ClerkAuthMiddleware)

	protected.HandleFunc("/user", userHandler.GetProfile).Methods("GET")
	protected.HandleFunc("/user/goals", userHandler.UpdateGoals).Methods("PUT")
	protected.HandleFunc("/user/steps", activityHandler.ReportSteps).Methods("POST")
	protected.HandleFunc("/user/activity/daily", activityHandler.GetDaily).Methods("GET")
	protected.HandleFunc("/user/activity/weekly", activityHandler.GetWeekly).Methods("GET")

	protected.HandleFunc("/challenges", challengeHandler.CreateChallenge).Methods("POST")
	protected.HandleFunc("/challenges/pending", challengeHandler.GetPending).Methods("GET")
	protected.HandleFunc("/challenges/active", challengeHandler.GetActive).Methods("GET")
	protected.HandleFunc("/challenges/past", challengeHandler.GetPast).Methods("GET")
	protected.HandleFunc("/challenges/accept", challengeHandler.AcceptInvite).Methods("POST")
	protected.HandleFunc("/challenges/decline", challengeHandler.DeclineInvite).Methods("POST")
	protected.HandleFunc("/challenges/sweep", challengeHandler.SweepExpired).Methods("POST")
	protected.HandleFunc("/challenges/{id}/resend", challengeHandler.ResendInvite).Methods("POST")
	protected.HandleFunc("/challenges/{id}", challengeHandler.CancelChallenge).Methods("DELETE")

	protected.HandleFunc("/notifications/register-device", userHandler.RegisterDevice).Methods("POST")

	// Expired invites are collected in the background too, not just when a
	// client triggers the sweep endpoint.
	sweepStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sweepCtx, sweepCancel := context.WithTimeout(context.Background(), time.Minute)
				if removed, err := challengeService.SweepExpired(sweepCtx); err != nil {
					log.Printf("Expiry sweep failed: %v", err)
				} else if removed > 0 {
					log.Printf("Expiry sweep removed %d challenges", removed)
				}
				sweepCancel()
			case <-sweepStop:
				return
			}
		}
	}()

	corsHandler := gorilllaHandlers.CORS(
		gorilllaHandlers.AllowedOrigins([]string{"*"}),
		gorilllaHandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorilllaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		gorilllaHandlers.ExposedHeaders([]string{"Content-Length"}),
		gorilllaHandlers.AllowCredentials(),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3333"
	}
	port = ":" + port

	server := http.Server{
		Addr:         port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Error starting server:", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	sig := <-sigChan
	log.Println("Got signal:", sig)

	close(sweepStop)
	dispatcher.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server shutdown complete")
}
