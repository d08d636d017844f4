// Command scrabbled runs the sensor-table coordinator: a TCP RPC
// endpoint for board/rack sensors and an HTTP control surface for the
// match-management UI.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wricardo/scrabble-table-server/internal/config"
	"github.com/wricardo/scrabble-table-server/internal/feed"
	"github.com/wricardo/scrabble-table-server/internal/gamestate"
	"github.com/wricardo/scrabble-table-server/internal/httpapi"
	"github.com/wricardo/scrabble-table-server/internal/obs"
	"github.com/wricardo/scrabble-table-server/internal/scrabblelib"
	"github.com/wricardo/scrabble-table-server/internal/sensorfleet"
	"github.com/wricardo/scrabble-table-server/internal/tcpserver"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "loading .env file: %v\n", err)
	}
	cfg := config.Load()

	level := obs.LevelInfo
	if cfg.Debug {
		level = obs.LevelDebug
	}
	log := obs.New(obs.Config{Level: level, Format: obs.FormatText})

	dict, err := scrabblelib.LoadDictionary(cfg.WordListPath)
	if err != nil {
		log.Errorf(err, "loading dictionary")
		os.Exit(1)
	}

	store := gamestate.NewStore(log.WithField("component", "gamestate_store"))
	fleet := sensorfleet.NewConnectionHandler(store, log.WithField("component", "connection_handler"))
	feedHub := feed.NewHub(log.WithField("component", "feed"))
	go feedHub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	tcpAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.TCPPort)
	acceptor := tcpserver.New(tcpAddr, fleet, log.WithField("component", "tcp_acceptor"))
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := acceptor.Run(ctx); err != nil {
			log.Errorf(err, "tcp acceptor stopped")
		}
	}()

	httpAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.HTTPPort)
	apiServer := httpapi.New(store, fleet, dict, feedHub, log.WithField("component", "http_api"))
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      apiServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.WithField("addr", httpAddr).Info("http control surface listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf(err, "http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	sig := <-stop
	log.WithField("signal", sig.String()).Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf(err, "http server shutdown")
	}

	wg.Wait()
	log.Info("stopped")
}
