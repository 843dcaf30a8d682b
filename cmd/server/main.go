package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-locshare/internal/api"
	"github.com/npezzotti/go-locshare/internal/config"
	"github.com/npezzotti/go-locshare/internal/server"
	"github.com/npezzotti/go-locshare/internal/stats"
	"github.com/npezzotti/go-locshare/internal/store"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dataFile       string
	baseURL        string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:3000", "server address")
	flag.StringVar(&dataFile, "data-file", "rooms.json", "path of the room state file")
	flag.StringVar(&baseURL, "base-url", "", "absolute base URL for invite links (derived from requests if empty)")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[locshare] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dataFile, baseURL, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	fileStore := store.NewFileStore(cfg.DataFile)

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	// the drain goroutine must be running before restore starts
	// producing counter updates
	statsUpdater.Run()
	defer statsUpdater.Stop()

	roomServer, err := server.NewRoomServer(logger, fileStore, statsUpdater)
	if err != nil {
		logger.Fatal("new room server:", err)
	}

	srv := api.NewLocShareApp(mux, logger, roomServer, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
