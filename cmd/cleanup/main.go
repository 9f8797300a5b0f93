package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"machinehub/internal/database"
	"machinehub/internal/repository"
	"machinehub/internal/service"

	"github.com/joho/godotenv"
)

// Retention job: deletes ledger entries older than the configured horizon.
// Intended to run from cron; exits non-zero on failure.
func main() {
	if err := godotenv.Load("configs/.env"); err != nil {
		log.Println("No configs/.env file found or error loading it")
	}

	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbUser := os.Getenv("DB_USER")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbName := os.Getenv("DB_NAME")
	dbSslMode := os.Getenv("DB_SSLMODE")

	if dbHost == "" {
		dbHost = "localhost"
	}
	if dbPort == "" {
		dbPort = "5432"
	}
	if dbUser == "" {
		dbUser = "postgres"
	}
	if dbPassword == "" {
		dbPassword = "postgres"
	}
	if dbName == "" {
		dbName = "postgres"
	}
	if dbSslMode == "" {
		dbSslMode = "disable"
	}

	dsn := "postgres://" + dbUser + ":" + dbPassword + "@" + dbHost + ":" + dbPort + "/" + dbName + "?sslmode=" + dbSslMode

	db, err := database.NewConnection(dsn)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}

	retentionDays := service.DefaultRetentionDays
	if v := os.Getenv("OPERATION_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			retentionDays = days
		} else {
			log.Printf("Ignoring invalid OPERATION_RETENTION_DAYS value %q", v)
		}
	}

	operationRepo := repository.NewOperationRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	txManager := repository.NewTransactionManager(db)
	operationService := service.NewOperationService(operationRepo, auditRepo, txManager)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	horizon := time.Duration(retentionDays) * 24 * time.Hour
	removed, err := operationService.PurgeOlderThan(ctx, nil, horizon)
	if err != nil {
		log.Fatalf("Retention purge failed: %v", err)
	}

	log.Printf("Retention purge complete: removed %d operations older than %d days", removed, retentionDays)
}
