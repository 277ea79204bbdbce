/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the sync engine daemon: SQLite-backed membership
  and manifest stores, a filesystem partition store, a data provider, and
  the operational HTTP API.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Open SQLite store (membership + manifest)
  3. Open partition store
  4. Wire the engine and API handler
  5. Start HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port     HTTP server port (default: 8080)
  -db       SQLite database path (default: sync.db)
            Use ":memory:" for an in-memory database
  -data     Partition root directory (default: ./data/partitions)
  -seed     Comma-separated entity list for the built-in synthetic
            provider (default: a small demo universe). Entities without
            a membership record get a demo interval inserted on startup,
            so a fresh database is immediately runnable.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, wait up to 30s for
  in-flight requests (and their runs) to finish, close the database.

EXAMPLES:
  ./syncd -db=./data/sync.db -data=./data/partitions
  ./syncd -db=":memory:"

SEE ALSO:
  - api/server.go: router configuration
  - reconcile/engine.go: the run the API triggers
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
	"strings"
	"syscall"
	"time"

	"github.com/warp/sync-engine/api"
	"github.com/warp/sync-engine/provider/synthetic"
	"github.com/warp/sync-engine/reconcile"
	"github.com/warp/sync-engine/store/csvpart"
	"github.com/warp/sync-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "sync.db", "SQLite database path")
	dataDir := flag.String("data", "./data/partitions", "partition root directory")
	seed := flag.String("seed", "AAPL,MSFT,GOOG", "entities served by the synthetic provider")
	flag.Parse()

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	parts, err := csvpart.New(*dataDir)
	if err != nil {
		log.Fatalf("Failed to initialize partition store: %v", err)
	}

	var entities []reconcile.EntityID
	for _, id := range strings.Split(*seed, ",") {
		if id = strings.TrimSpace(id); id != "" {
			entities = append(entities, reconcile.EntityID(id))
		}
	}
	provider := synthetic.New(entities...)

	if err := seedMembership(context.Background(), db, entities); err != nil {
		log.Fatalf("Failed to seed membership: %v", err)
	}

	engine := reconcile.NewEngine(db, reconcile.NewPartitionIndex(parts), reconcile.NewTracker(db), provider)
	router := api.NewRouter(api.NewHandler(engine))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Minute, // runs are synchronous and can be long
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Sync engine listening on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// seedMembership inserts a demo membership interval for every entity that
// has no membership record yet, so a freshly created database can serve
// coverage and run requests immediately. Entities that already have
// intervals are left untouched, which keeps restarts idempotent.
func seedMembership(ctx context.Context, db *sqlite.DB, entities []reconcile.EntityID) error {
	known, err := db.Entities(ctx)
	if err != nil {
		return err
	}
	present := make(map[reconcile.EntityID]bool, len(known))
	for _, id := range known {
		present[id] = true
	}

	for _, id := range entities {
		if present[id] {
			continue
		}
		iv := reconcile.MembershipInterval{
			Entity: id,
			Start:  reconcile.MustDate("2015-01-02"),
			End:    reconcile.Today(),
		}
		if err := db.AddInterval(ctx, iv); err != nil {
			return fmt.Errorf("seed %s: %w", id, err)
		}
		log.Printf("[Seed] added membership interval for %s (%s..%s)", id, iv.Start, iv.End)
	}
	return nil
}
