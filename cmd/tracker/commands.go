package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/radio-control/tracker/internal/api"
	"github.com/radio-control/tracker/internal/audit"
	"github.com/radio-control/tracker/internal/auth"
	"github.com/radio-control/tracker/internal/beacon"
	"github.com/radio-control/tracker/internal/command"
	"github.com/radio-control/tracker/internal/geofence"
	"github.com/radio-control/tracker/internal/radio"
	"github.com/radio-control/tracker/internal/telemetry"
)

var positionFlags = []cli.Flag{
	cli.Float64Flag{
		Name:  "lat",
		Value: 999,
		Usage: "Latitude of the position fix used for dynamic frequencies",
	},
	cli.Float64Flag{
		Name:  "lon",
		Value: 999,
		Usage: "Longitude of the position fix used for dynamic frequencies",
	},
}

var tuningFlags = []cli.Flag{
	cli.IntFlag{
		Name:  "unit, u",
		Value: 0,
		Usage: "Radio unit",
	},
	cli.StringFlag{
		Name:  "frequency, f",
		Value: "dynamic",
		Usage: "Base frequency in Hz, \"144.39MHz\", \"dynamic\" or \"receive\"",
	},
	cli.UintFlag{
		Name:  "step",
		Usage: "Channel step in Hz",
	},
	cli.UintFlag{
		Name:  "channel",
		Usage: "Channel number",
	},
}

var COMMANDS = []cli.Command{
	{
		Name:   "serve",
		Usage:  "Run the radio manager with the HTTP API, telemetry and beacon",
		Action: serveCommand,
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "addr, a",
				Usage: "Listen address (overrides api.addr)",
			},
		},
	},
	{
		Name:   "freq",
		Usage:  "Resolve an operating frequency from the configuration without touching hardware",
		Action: freqCommand,
		Flags: append(append([]cli.Flag{
			cli.StringFlag{
				Name:  "mode, m",
				Value: "transmit",
				Usage: "transmit or receive",
			},
		}, tuningFlags...), positionFlags...),
	},
	{
		Name:      "send",
		Usage:     "Transmit one packet and wait for the outcome",
		ArgsUsage: "<payload>",
		Action:    sendCommand,
		Flags: append(append([]cli.Flag{
			cli.StringFlag{
				Name:  "modulation, m",
				Value: "afsk",
				Usage: "afsk or 2fsk",
			},
			cli.UintFlag{
				Name:  "power, p",
				Usage: "PA level (default is the radio's configured power)",
			},
			cli.BoolFlag{
				Name:  "base64",
				Usage: "Payload argument is base64",
			},
			cli.DurationFlag{
				Name:  "timeout",
				Value: 30 * time.Second,
				Usage: "Give up waiting after this long",
			},
		}, tuningFlags...), positionFlags...),
	},
	{
		Name:   "token",
		Usage:  "Issue an HS256 API token signed with api.jwtSecret",
		Action: tokenCommand,
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "subject, s",
				Value: "operator",
				Usage: "Token subject recorded in audit entries",
			},
			cli.StringFlag{
				Name:  "role, r",
				Value: auth.RoleViewer,
				Usage: "viewer or controller",
			},
			cli.DurationFlag{
				Name:  "ttl",
				Value: 24 * time.Hour,
				Usage: "Token lifetime",
			},
		},
	},
}

func serveCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := telemetry.NewHub(&cfg.Timing)
	defer hub.Stop()

	auditLogger, err := audit.NewLogger(cfg.Logging.AuditDir, audit.Options{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("audit logger: %w", err)
	}
	defer auditLogger.Close()
	log.Printf("[INFO] audit log at %s", auditLogger.GetFilePath())

	events := radio.Publishers{hub, auditLogger}
	st, err := buildStack(cfg, stackOptions{
		Events: events,
		Audit:  auditLogger,
	})
	if err != nil {
		return err
	}
	defer st.close()
	hub.SetSnapshot(func() interface{} { return st.mgr.List() })

	orchestrator := command.NewOrchestrator(st.mgr, cfg.API.CommandTimeout)
	orchestrator.SetAuditLogger(auditLogger)
	orchestrator.SetFramePublisher(events)

	opts := api.Options{
		Position:     st.fence,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}
	if cfg.API.JWTSecret != "" {
		verifier, err := auth.NewVerifier(auth.VerifierConfig{Algorithm: "HS256", SecretKey: cfg.API.JWTSecret})
		if err != nil {
			return err
		}
		opts.Auth = auth.NewMiddleware(verifier)
	} else {
		log.Printf("[WARN] api.jwtSecret not set, API is unauthenticated")
	}
	server := api.NewServer(hub, orchestrator, opts)

	if cfg.Beacon.Enabled {
		b, err := beacon.New(st.mgr, cfg.Beacon)
		if err != nil {
			return fmt.Errorf("beacon: %w", err)
		}
		go func() { _ = b.Run(ctx) }()
	}

	addr := cfg.API.Addr
	if a := c.String("addr"); a != "" {
		addr = a
	}
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(addr)
	}()
	log.Printf("[INFO] tracker %s serving %d radio(s) on %s", Version, len(cfg.Radios), addr)

	select {
	case <-ctx.Done():
		log.Printf("[INFO] shutting down")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timing.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Printf("[WARN] %v", err)
	}
	return nil
}

func freqCommand(c *cli.Context) error {
	st, err := buildStack(cfg, stackOptions{Offline: true})
	if err != nil {
		return err
	}
	defer st.close()
	if err := applyPosition(c, st.fence); err != nil {
		return err
	}

	orchestrator := command.NewOrchestrator(st.mgr, cfg.API.CommandTimeout)
	f, err := orchestrator.Frequency(context.Background(), radio.Unit(c.Int("unit")).String(), command.FrequencyQuery{
		Base:    c.String("frequency"),
		Step:    uint32(c.Uint("step")),
		Channel: uint16(c.Uint("channel")),
		Mode:    c.String("mode"),
	})
	if err != nil {
		return err
	}
	region := st.fence.Status().Region
	if region == "" {
		region = "none"
	}
	fmt.Printf("%s %s %d Hz (region %s)\n", radio.Unit(c.Int("unit")), c.String("mode"), uint32(f), region)
	return nil
}

func sendCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("send requires exactly one payload argument", 2)
	}
	payload := []byte(c.Args().First())
	if c.Bool("base64") {
		var err error
		if payload, err = base64.StdEncoding.DecodeString(c.Args().First()); err != nil {
			return fmt.Errorf("payload: %w", err)
		}
	}

	unit := c.Int("unit")
	power := uint8(c.Uint("power"))
	if power == 0 {
		if rc, ok := cfg.Radio(unit); ok {
			power = rc.Power
		}
	}

	st, err := buildStack(cfg, stackOptions{})
	if err != nil {
		return err
	}
	defer st.close()
	if err := applyPosition(c, st.fence); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
	defer cancel()
	orchestrator := command.NewOrchestrator(st.mgr, c.Duration("timeout"))
	seq, err := orchestrator.Transmit(ctx, radio.Unit(unit).String(), command.TransmitParams{
		Modulation: c.String("modulation"),
		Frequency:  c.String("frequency"),
		Step:       uint32(c.Uint("step")),
		Channel:    uint16(c.Uint("channel")),
		Power:      power,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s sent %d bytes, sequence %d\n", radio.Unit(unit), len(payload), seq)
	return nil
}

func tokenCommand(c *cli.Context) error {
	if cfg.API.JWTSecret == "" {
		return cli.NewExitError("api.jwtSecret is not configured", 2)
	}
	role := c.String("role")
	if role != auth.RoleViewer && role != auth.RoleController {
		return cli.NewExitError(fmt.Sprintf("unknown role %q", role), 2)
	}
	token, err := auth.IssueHS256(cfg.API.JWTSecret, c.String("subject"), []string{role}, auth.RoleScopes(role), c.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// applyPosition feeds --lat/--lon to the geofence when both are given.
func applyPosition(c *cli.Context, fence *geofence.Geofence) error {
	lat, lon := c.Float64("lat"), c.Float64("lon")
	if lat == 999 && lon == 999 {
		return nil
	}
	return fence.SetPosition(geofence.Position{Lat: lat, Lon: lon})
}
