package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/crowdfactor/backend/internal/access"
	"github.com/crowdfactor/backend/internal/config"
	"github.com/crowdfactor/backend/internal/database"
	"github.com/crowdfactor/backend/internal/events"
	"github.com/crowdfactor/backend/internal/services"
	"github.com/crowdfactor/backend/internal/worker"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	config.Init()
	cfg := config.LoadWorkerConfig()

	db := database.InitDatabase()
	defer db.Close()

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
	// The worker identity holds the server role for distribution calls.
	accessCtl.Grant(access.RoleServer, cfg.Identity)

	ledger := services.NewLedgerService(db, accessCtl, publisher)
	queue := services.NewDistributionQueue(redisClient)
	distribution := services.NewDistributionService(db, accessCtl, ledger, publisher, queue,
		cfg.RefundBatchSize, cfg.PayoutBatchSize)

	w := worker.New(cfg, distribution, queue)
	if err := w.Start(); err != nil {
		logrus.Fatalf("Failed to start worker: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Worker shutting down...")
	w.Stop()
}
