package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/crowdfactor/backend/docs"
	"github.com/crowdfactor/backend/internal/access"
	"github.com/crowdfactor/backend/internal/config"
	"github.com/crowdfactor/backend/internal/database"
	"github.com/crowdfactor/backend/internal/events"
	"github.com/crowdfactor/backend/internal/handlers"
	mW "github.com/crowdfactor/backend/internal/middleware"
	"github.com/crowdfactor/backend/internal/services"
	"github.com/crowdfactor/backend/internal/token"
)

// @title Crowdfactor API
// @version 1.0
// @description Invoice factoring platform: currency ledger, invoice auctions and fund distribution
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	config.Init()
	workerCfg := config.LoadWorkerConfig()

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Crowdfactor API"
	docs.SwaggerInfo.Description = "Invoice factoring platform: currency ledger, invoice auctions and fund distribution"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	db := database.InitDatabase()
	defer db.Close()

	if !viper.GetBool("database.skip_migrations") {
		database.ExecuteMigrations(db)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	var publisher events.Publisher
	if conn := events.InitRabbitMQ(); conn != nil {
		defer conn.Close()
		amqpPublisher, err := events.NewAMQPPublisher(conn)
		if err != nil {
			logrus.Fatalf("Failed to open event channel: %v", err)
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	} else {
		logrus.Warn("RabbitMQ unavailable, falling back to log publisher")
		publisher = events.NewLogPublisher()
	}

	accessCtl := access.NewConfigControl()
	bridge := token.NewBridge()

	ledgerService := services.NewLedgerService(db, accessCtl, publisher)
	currencyService := services.NewCurrencyService(db, accessCtl, publisher)
	queue := services.NewDistributionQueue(redisClient)
	auctionService := services.NewAuctionService(db, accessCtl, ledgerService, publisher, queue)
	distributionService := services.NewDistributionService(db, accessCtl, ledgerService, publisher, queue,
		workerCfg.RefundBatchSize, workerCfg.PayoutBatchSize)
	custodyService := services.NewCustodyService(db, accessCtl, ledgerService, currencyService, bridge, bridge, publisher)
	settlementService := services.NewSettlementService(auctionService, distributionService, currencyService)
	qrService := services.NewQRService(auctionService, redisClient, workerCfg.ReferenceTTL)

	currencyHandler := handlers.NewCurrencyHandler(currencyService)
	ledgerHandler := handlers.NewLedgerHandler(ledgerService)
	auctionHandler := handlers.NewAuctionHandler(auctionService)
	distributionHandler := handlers.NewDistributionHandler(distributionService)
	custodyHandler := handlers.NewCustodyHandler(custodyService)
	settlementHandler := handlers.NewSettlementHandler(settlementService)
	qrHandler := handlers.NewQRHandler(qrService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Get("/currencies", currencyHandler.List)
		r.Get("/currencies/{symbol}", currencyHandler.Get)
		r.Get("/ledger/{currency}/{accountId}", ledgerHandler.Balance)
		r.Get("/ledger/{currency}/{accountId}/entries", ledgerHandler.Entries)
		r.Get("/auctions", auctionHandler.List)
		r.Get("/auctions/{id}", auctionHandler.Get)
		r.Get("/auctions/{id}/payment-reference", qrHandler.PaymentReference)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/currencies", currencyHandler.Register)

			r.Post("/ledger/mint", ledgerHandler.Mint)
			r.Post("/ledger/destroy", ledgerHandler.Destroy)
			r.Post("/ledger/transfers", ledgerHandler.Transfer)

			r.Post("/custody/deposits", custodyHandler.Deposit)
			r.Post("/custody/withdrawals", custodyHandler.Withdraw)
			r.Post("/custody/releases", custodyHandler.Release)
			r.Post("/custody/deposit-targets", custodyHandler.CreateDepositTarget)
			r.Post("/custody/tokens/{handle}/transfers", custodyHandler.InboundTransfer)

			r.Post("/auctions", auctionHandler.Create)
			r.Post("/auctions/{id}/open", auctionHandler.Open)
			r.Post("/auctions/{id}/groups", auctionHandler.CreateGroup)
			r.Post("/auctions/{id}/bids", auctionHandler.InitialBid)
			r.Post("/auctions/{id}/groups/{g}/bids", auctionHandler.Bid)
			r.Post("/auctions/{id}/close", auctionHandler.Close)

			r.Post("/auctions/{id}/fund-beneficiary", distributionHandler.FundBeneficiary)
			r.Post("/auctions/{id}/refunds", distributionHandler.RefundLosingGroups)
			r.Post("/auctions/{id}/refunds/{g}/{b}", distributionHandler.RefundBidder)
			r.Post("/auctions/{id}/payments", distributionHandler.Payment)
			r.Post("/auctions/{id}/payouts", distributionHandler.FundWinnerGroup)
			r.Post("/auctions/{id}/payouts/{b}", distributionHandler.FundWinnerBidder)

			r.Post("/settlement/pacs008", settlementHandler.IntakePacs008)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		logrus.Infof("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Fatal("Server forced to shutdown: ", err)
	}

	logrus.Info("Server stopped")
}
