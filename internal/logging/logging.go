// Package logging configures the process-wide standard logger: level
// filtering on the bracketed prefix, strftime timestamps and an optional
// rotating file sink.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/logutils"
	"github.com/lestrrat-go/strftime"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/radio-control/tracker/internal/config"
)

// NewFilter returns a level filter writing to out.
func NewFilter(level string, out io.Writer) *logutils.LevelFilter {
	return &logutils.LevelFilter{
		Levels:   config.LogLevels,
		MinLevel: logutils.LogLevel(strings.ToUpper(level)),
		Writer:   out,
	}
}

// Stamper prefixes each line with a strftime timestamp.
type Stamper struct {
	mu     sync.Mutex
	out    io.Writer
	layout *strftime.Strftime
	now    func() time.Time
	buf    bytes.Buffer
}

// NewStamper compiles pattern and returns a writer stamping lines to out.
func NewStamper(pattern string, out io.Writer) (*Stamper, error) {
	f, err := strftime.New(pattern, strftime.WithMilliseconds('L'))
	if err != nil {
		return nil, fmt.Errorf("time format %q: %w", pattern, err)
	}
	return &Stamper{out: out, layout: f, now: time.Now}, nil
}

// Write stamps p, which the log package always hands over as one line.
func (s *Stamper) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Reset()
	if err := s.layout.Format(&s.buf, s.now()); err != nil {
		return 0, err
	}
	s.buf.WriteByte(' ')
	s.buf.Write(p)
	if _, err := s.out.Write(s.buf.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Sink returns stdout, or a lumberjack rotating file when file is set.
func Sink(cfg config.LoggingConfig) (io.WriteCloser, error) {
	if cfg.File == "" {
		return nopCloser{os.Stdout}, nil
	}
	path, err := homedir.Expand(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("log file %q: %w", cfg.File, err)
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Setup points the standard logger at the configured sink. The returned
// closer releases the sink.
func Setup(cfg config.LoggingConfig) (io.Closer, error) {
	sink, err := Sink(cfg)
	if err != nil {
		return nil, err
	}
	pattern := cfg.TimeFormat
	if pattern == "" {
		pattern = "%Y-%m-%d %H:%M:%S"
	}
	stamper, err := NewStamper(pattern, sink)
	if err != nil {
		_ = sink.Close()
		return nil, err
	}
	log.SetFlags(0)
	log.SetOutput(NewFilter(cfg.Level, stamper))
	return sink, nil
}
