package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/existflow/ecofinds/internal/apitest"
	"github.com/existflow/ecofinds/internal/logger"
	"github.com/existflow/ecofinds/internal/model"
)

// demoProducts are listed on start so the CLI has something to add
var demoProducts = []model.CartProduct{
	{ID: "p1", Title: "Linen shirt", Price: 18, OriginalPrice: 35, Size: "M", Color: "sand", Seller: model.Seller{ID: "s1", Username: "thrift"}},
	{ID: "p2", Title: "Desk lamp", Price: 25, Seller: model.Seller{ID: "s2", Username: "rewire"}},
	{ID: "p3", Title: "Road bike helmet", Price: 30, OriginalPrice: 60, Size: "L", Seller: model.Seller{ID: "s2", Username: "rewire"}},
	{ID: "p4", Title: "Ceramic mug set", Price: 12.5, Color: "blue", Seller: model.Seller{ID: "s3", Username: "kiln"}},
}

func main() {
	cfg := logger.DefaultConfig()
	cfg.FilePath = ""
	cfg.Console = true
	cfg.Level = logger.ParseLevel(os.Getenv("ECOFINDS_LOG_LEVEL"))
	if err := logger.Init(cfg); err != nil {
		os.Exit(1)
	}
	defer logger.Close()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}

	srv := apitest.NewServer()
	for _, p := range demoProducts {
		srv.AddProduct(p)
	}
	user := srv.AddUser("demo@ecofinds.dev", "Demo1234", model.User{Username: "demo", FirstName: "Demo"})
	logger.Info("Seeded demo account", logger.F("email", user.Email), logger.F("password", "Demo1234"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error closing server", logger.F("error", err))
		}
	}()

	logger.Info("EcoFinds dev API starting", logger.F("addr", "http://localhost:"+port+"/api"))
	if err := srv.Start(":" + port); err != nil {
		logger.Error("Server failed", logger.F("error", err))
		os.Exit(1)
	}
}
