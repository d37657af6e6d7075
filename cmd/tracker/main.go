// Package main implements the tracker radio service entry point.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli"

	"github.com/radio-control/tracker/internal/config"
	"github.com/radio-control/tracker/internal/logging"
)

// Version is reported by --version and GET /health.
const Version = "1.0.0"

var (
	cfg       *config.Config
	logCloser io.Closer
)

func main() {
	app := cli.NewApp()
	app.Name = "tracker"
	app.Usage = "Radio task manager for the tracker transceivers"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "YAML configuration file (default " + config.DefaultConfigPath + ")",
			EnvVar: "TRACKER_CONFIG",
		},
		cli.StringFlag{
			Name:  "log-level, l",
			Usage: "Override the configured log level (" + strings.Join(levelNames(), ", ") + ")",
		},
	}
	app.Before = setup
	app.After = func(*cli.Context) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	}
	app.Commands = COMMANDS

	if err := app.Run(os.Args); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

// setup loads the configuration and installs the log pipeline before any
// command runs.
func setup(c *cli.Context) error {
	var err error
	cfg, err = config.Load(c.GlobalString("config"))
	if err != nil {
		return err
	}
	if level := c.GlobalString("log-level"); level != "" {
		cfg.Logging.Level = strings.ToUpper(level)
		if !validLevel(cfg.Logging.Level) {
			return fmt.Errorf("unknown log level %q", level)
		}
	}
	logCloser, err = logging.Setup(cfg.Logging)
	return err
}

func levelNames() []string {
	out := make([]string, len(config.LogLevels))
	for i, l := range config.LogLevels {
		out[i] = string(l)
	}
	return out
}

func validLevel(level string) bool {
	for _, l := range config.LogLevels {
		if string(l) == level {
			return true
		}
	}
	return false
}
