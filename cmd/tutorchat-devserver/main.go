// Command tutorchat-devserver runs the sqlite-backed reference backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tutorchat/internal/app"
	"tutorchat/internal/config"
	"tutorchat/pkg/interfaces"
)

// Main entry point with comprehensive error handling and signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
// Signal handling ensures graceful shutdown in production environments
func run() error {
	// STEP 1: Load configuration with precedence (file > env > defaults)
	config.LoadDotEnv()
	cfg := config.LoadConfigWithPrecedence(os.Getenv(config.EnvPrefix + "CONFIG_FILE"))

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// STEP 3: Seed demo accounts into an empty database
	if err := seedIfEmpty(context.Background(), application); err != nil {
		return err
	}

	// STEP 4: Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	// STEP 5: Start application
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	// STEP 6: Wait for shutdown signal
	sig := <-signalCh
	log.Printf("Received signal %v, shutting down gracefully", sig)

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// seedIfEmpty creates demo users on first start and prints their tokens
func seedIfEmpty(ctx context.Context, application *app.Application) error {
	db := application.Database()
	if _, err := db.GetUser(ctx, 1); err == nil {
		log.Printf("Database already populated, skipping demo seed")
		return nil
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return fmt.Errorf("failed to inspect database: %w", err)
	}

	result, err := app.Seed(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to seed demo data: %w", err)
	}

	for _, u := range append(result.Students, result.Tutors...) {
		role := "tutor"
		if u.User.IsStudent {
			role = "student"
		}
		log.Printf("Demo %s %s %s (id=%d) token=%s", role, u.User.FirstName, u.User.LastName, u.User.ID, u.Token)
	}
	return nil
}
