// Command templogger polls temperature controllers on a serial bus, stores
// every reading in SQLite and serves the history over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/temperature.report/internal/api"
	"github.com/banshee-data/temperature.report/internal/config"
	"github.com/banshee-data/temperature.report/internal/db"
	"github.com/banshee-data/temperature.report/internal/poller"
	"github.com/banshee-data/temperature.report/internal/serialport"
	"github.com/banshee-data/temperature.report/internal/timeutil"
	"github.com/banshee-data/temperature.report/internal/version"
)

var (
	configFile      = flag.String("config", "", "YAML configuration file")
	dbPath          = flag.String("db", "", "SQLite database path (overrides config)")
	listen          = flag.String("listen", "", "HTTP listen address (overrides config)")
	port            = flag.String("port", "", "Serial port to poll, or "+serialport.SimulatedPortName+" for simulated instruments (overrides config)")
	protocolName    = flag.String("protocol", "", "Wire protocol, AIBUS or MODBUS (overrides config)")
	instrumentsFile = flag.String("instruments", "", "Instrument list JSON file (overrides config)")
	showVersion     = flag.Bool("version", false, "Print version and exit")
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [flags]\n       %s [flags] migrate <command>\n\nFlags:\n", os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintln(out)
	db.PrintMigrateHelp(out)
}

// loadConfig reads the optional config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return nil, err
		}
	}
	if *dbPath != "" {
		cfg.Database = *dbPath
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}
	if *protocolName != "" {
		cfg.Serial.Protocol = *protocolName
	}
	if *instrumentsFile != "" {
		cfg.InstrumentsFile = *instrumentsFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadInstruments returns the saved instrument list, falling back to the
// defaults when the file is unreadable or invalid for the protocol.
func loadInstruments(cfg *config.Config) []config.Instrument {
	list, err := config.LoadInstruments(cfg.InstrumentsFile)
	if err != nil {
		log.Printf("using default instruments: %v", err)
	}
	if err := config.ValidateInstruments(list, cfg.Protocol()); err != nil {
		log.Printf("using default instruments: %s: %v", cfg.InstrumentsFile, err)
		list = config.DefaultInstruments()
	}
	return list
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("templogger %s\n", version.Current())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], cfg.Database, os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	} else if flag.NArg() > 0 {
		flag.Usage()
		os.Exit(2)
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal(err)
	}

	database, err := db.NewDB(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	live := config.NewLive(config.Settings{
		Port:        cfg.Serial.Port,
		Protocol:    cfg.Protocol(),
		Instruments: loadInstruments(cfg),
	})

	factory := serialport.WithSimulator(serialport.NewRealSerialPortFactory(), timeutil.RealClock{})
	transport := serialport.NewTransport(factory, cfg.Serial.Options,
		serialport.WithReadTimeout(cfg.Serial.ReadTimeout),
		serialport.WithStrictChecksum(cfg.Serial.StrictChecksum),
	)
	scheduler := poller.New(transport, database, live, poller.Options{
		Interval:    cfg.Poll.Interval,
		IdleBackoff: cfg.Poll.IdleBackoff,
		Location:    loc,
	})

	// runs once now, which covers the startup prune
	retention := db.NewRetentionWorker(database, cfg.Retention.Window, cfg.Retention.Interval)
	retention.Start()
	defer retention.Stop()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the scheduler owns the serial port and closes it on the way out
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("poller stopped: %v", err)
		}
		log.Print("poller routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(database, live, scheduler, api.Options{
			InstrumentsFile: cfg.InstrumentsFile,
			MaxPlotPoints:   cfg.Display.MaxPlotPoints,
			LatestRows:      cfg.Display.LatestRows,
			Location:        loc,
		})
		mux := apiServer.ServeMux()

		// mount the admin debugging routes (accessible only locally or over Tailscale)
		database.AttachAdminRoutes(mux)
		scheduler.AttachAdminRoutes(mux)
		apiServer.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:              cfg.Listen,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Printf("listening on %s", cfg.Listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
