package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/tradesafe-app/paygate/app/models"
	"github.com/tradesafe-app/paygate/app/repository"
	"github.com/tradesafe-app/paygate/internal/pkg/cache"
	"github.com/tradesafe-app/paygate/internal/pkg/database"
	"github.com/tradesafe-app/paygate/internal/pkg/deposit"
	"github.com/tradesafe-app/paygate/internal/pkg/env"
	"github.com/tradesafe-app/paygate/internal/pkg/lockmanager"
	"github.com/tradesafe-app/paygate/internal/pkg/resilience"
	"github.com/tradesafe-app/paygate/internal/pkg/router"
	"github.com/tradesafe-app/paygate/internal/pkg/wallet"
	"github.com/tradesafe-app/paygate/internal/pkg/webhookqueue"
)

func main() {
	app, manager := NewApplication()

	// Graceful shutdown: stop taking traffic, then drain the queue
	// workers and background tasks.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutdown signal received")
		if err := app.Shutdown(); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Printf("Server stopped: %v", err)
	}

	manager.Stop()
	log.Println("Shutdown complete")
}

func NewApplication() (*fiber.App, *webhookqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	if _, err := models.LoadPaymentSettings(database.GetDB()); err != nil {
		log.Fatalf("Failed to load payment settings: %v", err)
	}

	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()

	locks := lockmanager.NewManager(repos.Lock)
	deposit.Initialize(repos, locks, resilience.GetRegistry(), wallet.NewLedgerClientFromEnv())

	manager := webhookqueue.Initialize(repos, locks)
	queue := manager.GetQueue()
	processor := deposit.GetService().QueueProcessor()
	queue.RegisterProcessor(models.ProviderCoinPayd, "ipn", processor)
	queue.RegisterProcessor(models.ProviderBlockRail, "notify", processor)
	manager.Start()

	app := fiber.New(fiber.Config{
		AppName:   "paygate",
		BodyLimit: 1 << 20, // webhook payloads are small
	})
	app.Use(recover.New(), logger.New())

	router.InstallRouter(app)

	return app, manager
}
