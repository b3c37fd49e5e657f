package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"odds_harvester/collector"
	"odds_harvester/config"
	"odds_harvester/fetch"
	"odds_harvester/logging"
	"odds_harvester/parser"
	"odds_harvester/schedule"
	"odds_harvester/scheduler"
	"odds_harvester/services"
	"odds_harvester/storage"
	"odds_harvester/workers"
)

var (
	startDate  = flag.String("start", "", "Collection start date (YYYY-MM-DD)")
	endDate    = flag.String("end", "", "Collection end date (YYYY-MM-DD), defaults to start")
	resume     = flag.Bool("resume", false, "Resume from the last checkpoint for this range")
	concurrent = flag.Bool("concurrent", false, "Harvest dates concurrently")
	daemon     = flag.Bool("daemon", false, "Run continuously on the configured schedule")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("harvester.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting odds_harvester...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Source: %s (%s), %d pages, fetcher=%s",
		cfg.Source.Name, cfg.Source.ID, len(cfg.Source.Pages), cfg.Fetch.Kind)

	ctx := context.Background()

	pgStore, err := storage.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pgStore.Close()
	log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Database.URL))

	staging, err := storage.NewStagingStore(cfg.StagingDBPath)
	if err != nil {
		log.Fatalf("Failed to open staging database: %v", err)
	}
	defer staging.Close()
	log.Printf("Staging database: %s", cfg.StagingDBPath)

	var archiver storage.Archiver = storage.NoopArchiver{}
	if cfg.Archive.Bucket != "" {
		archiver, err = storage.NewS3Archiver(ctx, cfg.Archive)
		if err != nil {
			log.Fatalf("Failed to set up archive storage: %v", err)
		}
		log.Printf("Archiving captures to bucket %s", cfg.Archive.Bucket)
	}

	fetcher := fetch.NewFetcher(&cfg.Fetch)
	if bf, ok := fetcher.(*fetch.BrowserFetcher); ok {
		defer bf.Close()
	}
	client := fetch.NewClient(fetcher, &cfg.Fetch)

	scheduleClient := schedule.NewClient(cfg.Schedule, staging)
	correlator := services.NewCorrelator(cfg.Correlate.ToleranceHours, cfg.Correlate.AttachThreshold)
	promoter := services.NewPromoter(pgStore, staging, scheduleClient, correlator, cfg.Collector.BatchSize)

	orch := collector.NewOrchestrator(
		client, parser.New(), staging, promoter, pgStore, archiver,
		cfg.Source, cfg.Collector, cfg.Fetch.Concurrency,
	)
	if *concurrent {
		orch.EnableConcurrentDates(cfg.Collector.ConcurrentDates)
	}
	orch.OnProgress(func(percent float64, message string) {
		log.Printf("[%5.1f%%] %s", percent, message)
	})

	detailWorker := workers.NewDetailWorker(pgStore, scheduleClient)

	// One-shot collection
	if *startDate != "" {
		start, err := time.Parse("2006-01-02", *startDate)
		if err != nil {
			log.Fatalf("Invalid -start date: %v", err)
		}
		end := start
		if *endDate != "" {
			if end, err = time.Parse("2006-01-02", *endDate); err != nil {
				log.Fatalf("Invalid -end date: %v", err)
			}
		}

		summary, err := orch.Run(ctx, start, end, *resume)
		if summary != nil {
			log.Printf("Fetch success rate: %.1f%%, correlation rate: %.1f%%",
				summary.FetchSuccessRate()*100, summary.CorrelationRate()*100)
		}
		if err != nil {
			log.Fatalf("Collection failed: %v", err)
		}

		if n := detailWorker.ProcessBatch(ctx, 50); n > 0 {
			log.Printf("Enriched %d games with schedule detail", n)
		}
		log.Println("Collection complete!")
		return
	}

	if !*daemon {
		log.Fatal("Nothing to do: pass -start YYYY-MM-DD for a one-shot run or -daemon for scheduled mode")
	}

	// Daemon mode
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.New(cfg.Scheduler, func(ctx context.Context, start, end time.Time, resume bool) error {
		_, err := orch.Run(ctx, start, end, resume)
		return err
	})
	sched.SetWorkers(detailWorker)

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	go detailWorker.Run(ctx, 50, 15*time.Minute)
	log.Println("Detail worker started")

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	sched.Stop()
	log.Println("Goodbye!")
}

// maskConnectionString masks the password in a connection string for logging.
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
