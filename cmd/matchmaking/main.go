// Command matchmaking runs the UDP matchmaking front server: it
// impersonates a Source-engine game server to clients and redirects
// confirmed joiners to the best-scoring configured backend.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/breadpudding/matchmaking/internal/admin"
	"github.com/breadpudding/matchmaking/internal/audit"
	"github.com/breadpudding/matchmaking/internal/config"
	"github.com/breadpudding/matchmaking/internal/dispatch"
	"github.com/breadpudding/matchmaking/internal/logging"
	"github.com/breadpudding/matchmaking/internal/matchmaking"
	"github.com/breadpudding/matchmaking/internal/netchan"
)

func main() {
	configPath := flag.String("config", "matchmaking.yaml", "path to the YAML configuration document")
	listenOverride := flag.String("listen", "", "override matchmaking.address:port from the config file")
	flag.Parse()

	log := logging.New("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}

	if err := ensureAdminPassword(cfg, log); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}

	d := dispatch.New(&cfg.Matchmaking)

	var recorder *audit.Recorder
	if cfg.Audit.DatabasePath != "" {
		recorder, err = audit.Open(cfg.Audit.DatabasePath)
		if err != nil {
			log.Errorf("opening audit database: %v", err)
			os.Exit(1)
		}
		defer recorder.Close()
		d.SetRecorder(recorder)
	}

	controller := matchmaking.NewController(matchmaking.ServersFromConfig(cfg.Servers), matchmaking.A2SProber{})
	if recorder != nil {
		controller.SetRecorder(recorder)
	}

	if cfg.Admin.Listen != "" {
		startAdminConsole(cfg, d, controller, log)
	}

	listenAddr := fmt.Sprintf("%s:%d", cfg.Matchmaking.Address, cfg.Matchmaking.Port)
	if *listenOverride != "" {
		listenAddr = *listenOverride
	}
	idleTimeout := time.Duration(cfg.Matchmaking.IdleTimeout) * time.Second
	runEventLoop(listenAddr, d, controller, idleTimeout, log)
}

// adminState adapts the dispatcher and matchmaking controller to the small
// interface the admin console observes.
type adminState struct {
	dispatcher *dispatch.Dispatcher
	controller *matchmaking.Controller
}

func (s adminState) Clients() map[string]*netchan.Client { return s.dispatcher.Clients() }
func (s adminState) LastScored() []matchmaking.Scored     { return s.controller.LastScored() }

func startAdminConsole(cfg *config.Config, d *dispatch.Dispatcher, c *matchmaking.Controller, log *logging.Logger) {
	srv := admin.New(cfg.Admin.Username, cfg.Admin.PasswordHash, cfg.Admin.JWTSecret, adminState{d, c})
	go func() {
		log.Printf("admin console listening on %s", cfg.Admin.Listen)
		if err := http.ListenAndServe(cfg.Admin.Listen, srv.Handler()); err != nil {
			log.Errorf("admin console stopped: %v", err)
		}
	}()
}

func ensureAdminPassword(cfg *config.Config, log *logging.Logger) error {
	if cfg.Admin.Listen == "" || cfg.Admin.PasswordHash != "" {
		return nil
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return fmt.Errorf("admin.password_hash is empty and no TTY is attached to prompt for one")
	}

	fmt.Fprint(os.Stderr, "Set admin console password: ")
	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}

	hash, err := admin.HashPassword(string(passwordBytes))
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	return cfg.SavePasswordHash(hash)
}

func runEventLoop(listenAddr string, d *dispatch.Dispatcher, c *matchmaking.Controller, idleTimeout time.Duration, log *logging.Logger) {
	udpAddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		log.Errorf("resolving %s: %v", listenAddr, err)
		os.Exit(1)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		log.Errorf("binding %s: %v", listenAddr, err)
		os.Exit(1)
	}
	defer conn.Close()
	log.Printf("listening on %s", listenAddr)

	ctx := context.Background()
	lastTick := time.Now()
	buf := make([]byte, 65507)

	for {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if !isTimeout(err) {
				log.Warnf("reading datagram: %v", err)
			}
		} else {
			for _, reply := range d.Handle(from.String(), buf[:n], time.Now()) {
				if _, err := conn.WriteToUDP(reply, from); err != nil {
					log.Warnf("sending reply to %s: %v", from, err)
				}
			}
		}

		if time.Since(lastTick) >= time.Second {
			c.Tick(ctx, d)
			d.EvictIdle(time.Now(), idleTimeout)
			lastTick = time.Now()
		}
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
