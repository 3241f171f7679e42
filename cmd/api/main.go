package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/verification-api/internal/application/verification"
	"github.com/verification-api/internal/config"
	"github.com/verification-api/internal/infrastructure/dynamo"
	jwtinfra "github.com/verification-api/internal/infrastructure/jwt"
	"github.com/verification-api/internal/infrastructure/memory"
	"github.com/verification-api/internal/infrastructure/platform"
	"github.com/verification-api/internal/infrastructure/sns"
	transporthttp "github.com/verification-api/internal/transport/http"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	var (
		ledger  verification.Ledger
		tickets verification.TicketRepo
	)
	switch cfg.StoreBackend {
	case "memory":
		log.Println("WARN: using in-memory stores, state is lost on restart")
		ledger = memory.NewVerificationLedger()
		tickets = memory.NewTicketStore()
	default:
		// Bootstrap DynamoDB tables (creates them if they don't exist).
		dynamoClient := dynamo.NewClient(cfg)
		dynamo.Bootstrap(context.Background(), dynamoClient, cfg.DynamoTables)
		ledger = dynamo.NewVerificationRepo(dynamoClient, cfg.DynamoTables.Verifications, cfg.DynamoTables.Bindings, cfg.DynamoTables.Pending)
		tickets = dynamo.NewTicketRepo(dynamoClient, cfg.DynamoTables.Tickets)
	}

	// Platform adapter (optional — a disabled stub is used without a token).
	adapter, err := platform.NewClient(cfg)
	if err != nil {
		log.Printf("WARN: platform adapter not available: %v", err)
		adapter = platform.Disabled{}
	}

	// Operator alerter (optional — graceful fallback).
	var alerter verification.Alerter
	if a, err := sns.NewAlerter(cfg); err == nil {
		alerter = a
	} else {
		log.Printf("WARN: SNS alerter not available: %v", err)
	}

	// JWT provider (optional — graceful fallback if keys are missing).
	var jwtProvider *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		jwtProvider = p
	} else {
		log.Printf("WARN: JWT provider not available: %v", err)
	}

	svc := verification.NewService(verification.ServiceDeps{
		Ledger:      ledger,
		TicketRepo:  tickets,
		Platform:    adapter,
		Alerter:     alerter,
		CodeFormat:  cfg.CodeFormat,
		CodeTTL:     cfg.CodeTTL,
		IssuePolicy: cfg.IssuePolicy,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.SweepInterval > 0 {
		sweeper := verification.NewSweeper(svc, ledger, tickets, cfg.CodeTTL, cfg.SweepInterval)
		go sweeper.Run(rootCtx)
	}

	router := transporthttp.NewRouter(cfg, &transporthttp.Deps{
		Service:     svc,
		JWTProvider: jwtProvider,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s, backend=%s)", cfg.AppPort, cfg.AppEnv, cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-rootCtx.Done()

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
