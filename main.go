package main

import (
	"log"
	"os"

	"coffee-payment-service/internal/database"
	"coffee-payment-service/internal/handlers"
	"coffee-payment-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found in current directory, trying parent")
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("No .env file found, using system environment variables")
		}
	}

	if mode := os.Getenv("GIN_MODE"); mode != "" {
		gin.SetMode(mode)
	}

	// Initialize Database
	database.Connect()
	database.Migrate()
	db := database.DB

	// Redis (fee cache + Asynq)
	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	defer asynqClient.Close()

	// Init Services
	feeService := services.NewFeeService(db, rdb)
	walletService := services.NewWalletService(db)
	ledgerService := services.NewLedgerService(db, walletService)
	recordService := services.NewPaymentRecordService(db)
	vnpayService := services.NewVnpayService()
	planClient := services.NewPlanClient()

	paymentService := services.NewPaymentService(
		db,
		feeService,
		walletService,
		ledgerService,
		recordService,
		vnpayService,
		planClient,
		asynqClient,
	)

	reconciliationService := services.NewReconciliationService(db, paymentService, recordService)

	// Initialize Gin
	r := gin.Default()

	// Ping endpoint
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "Welcome to the coffee payment service",
		})
	})

	paymentHandler := handlers.NewPaymentHandler(paymentService)
	walletHandler := handlers.NewWalletHandler(walletService, feeService)

	// Payment Routes
	r.POST("/payments/plans/checkout", paymentHandler.CreatePlanCheckout)
	r.POST("/payments/wallet/topup", paymentHandler.CreateWalletTopup)
	r.POST("/payments/wallet/pay", paymentHandler.PayWithWallet)
	r.POST("/payments/:id/recreate", paymentHandler.RecreateCheckout)
	r.GET("/payments/vnpay/ipn", paymentHandler.HandleIPN)

	// Wallet Routes
	r.GET("/wallets/balance", walletHandler.GetBalance)
	r.GET("/wallets/transactions", walletHandler.GetTransactions)

	// Fee Configuration Routes
	r.GET("/fees", walletHandler.ListFeeConfigurations)
	r.POST("/fees", walletHandler.SaveFeeConfiguration)

	// Start Cron Schedulers
	reconciliationService.StartScheduler()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("HTTP Server starting on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}
