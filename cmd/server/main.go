/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the mask market server. Handles configuration,
  dependency injection, data loading, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Optionally load seed data files
  4. Create API handler with dependencies
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port         HTTP server port (default: 8080)
  -db           SQLite database path (default: market.db)
                Use ":memory:" for in-memory database
  -pharmacies   pharmacies.json seed file (loads on start when set)
  -users        users.json seed file (loads on start when set)
  -wipe         clear existing data before loading seed files

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/market.db"

  # Fresh import of the seed data
  ./server -db="./data/market.db" -wipe \
      -pharmacies=data/pharmacies.json -users=data/users.json

  # Run on different port
  ./server -port=3000

ENVIRONMENT:
  No environment variables currently. All config via flags.
  Future: DATABASE_URL, PORT, LOG_LEVEL

SEE ALSO:
  - api/server.go: Router configuration
  - etl/etl.go: Seed file loading
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phantom/maskmarket/api"
	"github.com/phantom/maskmarket/etl"
	"github.com/phantom/maskmarket/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "market.db", "SQLite database path")
	pharmacyFile := flag.String("pharmacies", "", "pharmacies.json seed file to load on start")
	userFile := flag.String("users", "", "users.json seed file to load on start")
	wipe := flag.Bool("wipe", false, "clear existing data before loading seed files")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Optional seed load
	if *pharmacyFile != "" || *userFile != "" {
		if *pharmacyFile == "" || *userFile == "" {
			log.Fatal("Seed load needs both -pharmacies and -users")
		}
		loader := etl.NewLoader(store)
		loader.WipeFirst = *wipe
		result, err := loader.LoadFiles(context.Background(), *pharmacyFile, *userFile)
		if err != nil {
			log.Fatalf("Failed to load seed data: %v", err)
		}
		log.Printf("Loaded %d pharmacies, %d masks, %d users, %d transactions",
			result.Pharmacies, result.Masks, result.Users, result.Transactions)
	}

	// Initialize handler and router
	handler := api.NewHandler(store)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
