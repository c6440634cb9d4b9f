package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/zaebos/cryptochat/pkg/database"
	"github.com/zaebos/cryptochat/pkg/email"
	"github.com/zaebos/cryptochat/pkg/server"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	configPath := flag.String("config", "~/.cryptochat/config.toml", "Path to config file")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	dbPath := flag.String("db", "", "Path to SQLite database (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("cryptochat server %s\n", Version)
		os.Exit(0)
	}

	if *debug {
		server.EnableDebugLogging()
	}

	config, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *listenAddr != "" {
		config.Server.ListenAddr = *listenAddr
	}
	if *dbPath != "" {
		config.Server.DatabasePath = *dbPath
	}

	finalDBPath, err := config.GetDatabasePath()
	if err != nil {
		log.Fatalf("Failed to resolve database path: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(finalDBPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := database.Open(finalDBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	var mailer email.Sender
	if config.SMTP.Host != "" {
		mailer = &email.SMTPSender{
			Host: config.SMTP.Host,
			Port: config.SMTP.Port,
			From: config.SMTP.From,
			User: config.SMTP.User,
			Pass: config.SMTP.Pass,
		}
	} else {
		log.Printf("No SMTP relay configured, verification codes go to the log")
		mailer = email.LogSender{}
	}

	srv := server.NewServer(db, mailer, config, server.NewMetrics())
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("cryptochat server %s listening on %s", Version, config.Server.ListenAddr)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("Shutting down...")
	if err := srv.Stop(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
