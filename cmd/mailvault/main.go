// Command mailvault exports every message of an IMAP account into a
// normalized PostgreSQL schema: folder hierarchy, metadata, recipients,
// leftover headers, attachments, threading references and raw sources.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/mailvault/mailvault/internal/config"
	"github.com/mailvault/mailvault/internal/db"
	"github.com/mailvault/mailvault/internal/imap"
	"github.com/mailvault/mailvault/internal/pipeline"
)

func main() {
	verbose := flag.Bool("v", false, "enable verbose (debug) logging")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	cfg, err := config.NewConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}
	if *verbose || cfg.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	// Interruption finishes or rolls back the in-flight batch; completed
	// messages stay committed.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.CloseConnection(pool)

	if err := db.RunMigrations(ctx, pool); err != nil {
		log.WithError(err).Fatal("Failed to apply schema migrations")
	}
	log.Info("Database schema verified")

	conn, err := imap.ConnectToIMAP(cfg.GetIMAPAddress(), cfg.IMAPUseTLS)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to IMAP server")
	}
	if err := imap.Login(conn, cfg.IMAPUsername, cfg.IMAPPassword); err != nil {
		log.WithError(err).Fatal("Failed to authenticate with IMAP server")
	}
	log.Infof("Connected to IMAP server %s as %s", cfg.IMAPHost, cfg.IMAPUsername)

	source := imap.NewClient(conn, log)
	defer func() {
		if err := source.Logout(); err != nil {
			log.WithError(err).Debug("IMAP logout failed")
		}
	}()

	p := pipeline.New(
		source,
		db.NewFolderStore(pool, log),
		db.NewEngine(pool, log, cfg.SkipExisting),
		log,
		pipeline.Options{
			FolderFilter: cfg.Folders,
			BatchSize:    cfg.BatchSize,
			CSVLogPath:   cfg.CSVLogPath,
			ShowProgress: true,
		},
	)

	stats, err := p.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("Interrupted; completed batches have been committed")
		} else {
			log.WithError(err).Fatal("Ingestion failed")
		}
	}

	log.Infof("Done. %d inserted, %d skipped, %d fetch error(s), %d decode error(s), %d persist error(s) out of %d processed message(s) in %d folder(s)",
		stats.Inserted, stats.Skipped, stats.FetchErrors, stats.DecodeErrors, stats.PersistErrors, stats.Processed, stats.Folders)
}
