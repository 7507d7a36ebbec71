package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"fulcrum/internal/api"
	"fulcrum/internal/archive"
	"fulcrum/internal/auth"
	"fulcrum/internal/models"
	"fulcrum/internal/permutation"
	"fulcrum/internal/storage"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Database connection
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		getenv("MYSQL_USER", "fulcrum"),
		getenv("MYSQL_PASSWORD", "fulcrum"),
		getenv("MYSQL_HOST", "localhost"),
		getenv("MYSQL_PORT", "3306"),
		getenv("MYSQL_DATABASE", "fulcrum"),
	)

	// Configure GORM logger to ignore "record not found" errors
	// Those are expected on cache-miss lookups and lazy seeds
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Info,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := models.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize storage
	storagePath := getenv("RESULTS_BASE_DIR_PATH", "./results")
	storageService, err := storage.NewStorage(storagePath)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	// Used-permutation cache is optional; without Redis every perm request
	// recomputes the hash set from the trial table
	var permCache *permutation.Cache
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		})
		permCache = permutation.NewCache(client)
		log.Printf("Using Redis permutation cache at %s", addr)
	}

	authService := auth.NewService(db, getenv("JWT_SECRET", "fulcrum-dev-secret"))
	archiveService := archive.NewService(db)
	permService := permutation.NewService(db, permCache)

	// Initialize REST API server
	apiServer := api.NewServer(db, authService, storageService, archiveService, permService)

	// Start HTTP server
	httpPort := getenv("HTTP_PORT", "8080")

	log.Printf("Starting HTTP server on 0.0.0.0:%s", httpPort)
	log.Printf("REST API endpoint: http://0.0.0.0:%s/api/v1", httpPort)
	log.Printf("Results directory: %s", storagePath)

	if err := http.ListenAndServe("0.0.0.0:"+httpPort, apiServer.GetRouter()); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}
