package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"goatify/internal/ai"
	"goatify/internal/config"
	"goatify/internal/db"
	httpapi "goatify/internal/http"
	"goatify/internal/paypal"
	"goatify/internal/push"
	"goatify/internal/services"

	"github.com/joho/godotenv"
)

func main() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Printf("load .env failed: %v", err)
		}
	} else if err != nil && !os.IsNotExist(err) {
		log.Printf("stat .env failed: %v", err)
	}

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema failed: %v", err)
	}

	paypalClient, err := paypal.New(cfg.PayPalClientID, cfg.PayPalClientSecret, cfg.PayPalEnv)
	if err != nil {
		if !errors.Is(err, paypal.ErrNotConfigured) {
			log.Fatalf("paypal client failed: %v", err)
		}
		log.Printf("paypal not configured, subscription endpoints disabled")
	}

	var resolver services.SubscriptionResolver
	if paypalClient != nil {
		resolver = paypalClient
	}
	svc := services.New(pool, cfg, resolver)

	aiClient := ai.New(cfg.OpenAIAPIKey, cfg.PerplexityAPIKey)
	pushSender := push.NewSender(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubject)

	server := httpapi.NewServer(svc, cfg, paypalClient, aiClient, pushSender)
	httpServer := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: server.Routes(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.ServerAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}
