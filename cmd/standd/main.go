// standd is the test-rig control service: it owns the experiment records,
// drives the microcontroller over serial and serves the HTTP API.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/b0gdan00/Aspirantura-research/internal/adapters/observability"
	"github.com/b0gdan00/Aspirantura-research/internal/adapters/serial"
	"github.com/b0gdan00/Aspirantura-research/internal/adapters/store"
	"github.com/b0gdan00/Aspirantura-research/internal/app/config"
	"github.com/b0gdan00/Aspirantura-research/internal/app/control"
	"github.com/b0gdan00/Aspirantura-research/internal/app/poll"
	"github.com/b0gdan00/Aspirantura-research/internal/domain"
	"github.com/b0gdan00/Aspirantura-research/internal/httpapi"
	"github.com/b0gdan00/Aspirantura-research/internal/ingest"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "migrate":
		err = migrateCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("standd %s: %v", cmd, err)
	}
}

func printUsage() {
	fmt.Println(`Usage: standd <command> [flags]

Commands:
  run       Start the control service
  validate  Check a configuration file
  migrate   Create or update the database schema
  help      Show this message`)
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Postgres.ConnString)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	st := store.NewPostgresStore(db)
	sessions := serial.NewRegistry(serial.Defaults{
		BootDelay:   cfg.Serial.BootDelay,
		ReadTimeout: cfg.Serial.ReadTimeout,
	})
	defer sessions.CloseAll()

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	pollers := poll.NewRegistry(st, st, sessions, metrics, poll.Settings{
		Hz:            cfg.Poll.Hz,
		BatchSize:     cfg.Poll.BatchSize,
		FlushKeepTail: cfg.Poll.FlushKeepTail,
	})
	defer pollers.StopAll()

	ctl := control.NewController(st, sessions, pollers)
	ing := ingest.NewIngestor(st, metrics)
	api := httpapi.NewServer(st, st, ctl, ing, promhttp.Handler())

	resumePollers(ctx, st, pollers)

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: api.Handler()}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("standd: listening on %s", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("standd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// resumePollers restarts collection for experiments that were running when
// the service last stopped.
func resumePollers(ctx context.Context, st *store.PostgresStore, pollers *poll.Registry) {
	exps, err := st.ListExperiments(ctx, 50)
	if err != nil {
		log.Printf("standd: resume pollers: %v", err)
		return
	}
	for _, exp := range exps {
		if exp.Status == domain.StatusRunning && exp.SerialPort != "" {
			log.Printf("standd: resuming poller for experiment %d on %s", exp.ID, exp.SerialPort)
			pollers.EnsureRunning(exp)
		}
	}
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := config.Load(*cfgPath); err != nil {
		return err
	}
	fmt.Printf("config %s looks good\n", *cfgPath)
	return nil
}

func migrateCommand(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	cfgPath := fs.String("config", "./config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Postgres.ConnString)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	if err := store.NewPostgresStore(db).Migrate(ctx); err != nil {
		return err
	}
	fmt.Println("schema is up to date")
	return nil
}
