// Command redsentineld runs a standalone Sentinel orchestrator against a
// YAML config file, modeled on the teacher's main.go: flag parsing, a
// zerolog console writer, optional pprof, and signal-driven graceful
// shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/nats-io/stan.go"
	"github.com/redwich/sentinel"
	"github.com/redwich/sentinel/client"
	"github.com/redwich/sentinel/config"
	"github.com/redwich/sentinel/debugws"
	"github.com/redwich/sentinel/snapshot"
	"github.com/rs/zerolog"
)

var zlog = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.Stamp,
}).With().Timestamp().Logger()

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

var (
	configPath = flag.String("config", "redsentineld.yaml", "path to the orchestrator's YAML config file")
	cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
	memprofile = flag.String("memprofile", "", "write memory profile to `file`")
)

func main() {
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	loaded, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}

	if loaded.Nats != nil {
		sc, err := stan.Connect(loaded.Nats.ClusterID, loaded.Nats.ClientID, stan.NatsURL(loaded.Nats.Address))
		if err != nil {
			zlog.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer sc.Close()
		loaded.Sentinel.NatsPublisher = sc
	}

	c, err := client.New(loaded.Sentinel, zlog)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to start sentinel client")
	}

	//     ____           _ ____  _            _   _      _
	//    |  _ \ ___  __| / ___|(_) ___ _ __ | |_(_)_ __ | |
	//    | |_) / _ \/ _` \___ \| |/ _ \ '_ \| __| | '_ \| |
	//    |  _ <  __/ (_| |___) | |  __/ | | | |_| | | | |_|
	//    |_| \_\___|\__,_|____/|_|\___|_| |_|\__|_|_| |_(_)
	//
	//    mode: %s   shards: %d   client: %s

	mode := "sentinel"
	if loaded.Sentinel.ClusterMode {
		mode = "cluster"
	}
	fmt.Printf("\n    ____           _ ____  _            _   _      _\n   |  _ \\ ___  __| / ___|(_) ___ _ __ | |_(_)_ __ | |\n   | |_) / _ \\/ _` \\___ \\| |/ _ \\ '_ \\| __| | '_ \\| |\n   |  _ <  __/ (_| |___) | |  __/ | | | |_| | | | |_|\n   |_| \\_\\___|\\__,_|____/|_|\\___|_| |_|\\__|_|_| |_(_)\n\n   mode: %s   shards: %d   client: %s\n\n", mode, len(loaded.Sentinel.Shards), loaded.Sentinel.ClientName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if loaded.Snapshot != nil {
		exp := snapshot.NewExporter(snapshot.Config{
			RedisAddr: loaded.Snapshot.RedisAddr,
			Interval:  loaded.Snapshot.Interval.Duration,
		}, sentinelFromClient(c), zlog)
		go exp.Run(ctx)
	}

	if loaded.DebugWS != nil {
		hub := debugws.NewHub(sentinelFromClient(c), zlog)
		srv := &http.Server{Addr: loaded.DebugWS.Listen, Handler: hub}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				zlog.Warn().Err(err).Msg("debugws server stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	zlog.Info().Msg("sentinel client is running, ^C to stop")

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc

	zlog.Info().Msg("shutting down")
	cancel()
	c.Close()

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			log.Fatal("could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal("could not write memory profile: ", err)
		}
	}
}

// sentinelFromClient is a narrow accessor so main can wire the
// observability sidecars, which need the underlying *sentinel.Sentinel
// rather than the client facade.
func sentinelFromClient(c *client.Client) *sentinel.Sentinel {
	return c.Underlying()
}
