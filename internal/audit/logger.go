//
//
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lestrrat-go/strftime"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/radio-control/tracker/internal/radio"
)

// TimestampFormat renders audit timestamps as UTC ISO-8601 with milliseconds.
const TimestampFormat = "%Y-%m-%dT%H:%M:%S.%LZ"

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	Timestamp  string                 `json:"timestamp"`
	User       string                 `json:"user"`
	Unit       string                 `json:"unit"`
	Command    string                 `json:"command"`
	Modulation string                 `json:"modulation,omitempty"`
	Sequence   uint32                 `json:"sequence,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Outcome    string                 `json:"outcome"`
	Code       string                 `json:"code"`
	Error      string                 `json:"error,omitempty"`
}

// Options configures file rotation.
type Options struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger appends JSONL audit records to a rotating file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      io.WriteCloser
	stamp    *strftime.Strftime
	now      func() time.Time
}

// NewLogger creates an audit logger writing to logDir/audit.jsonl.
func NewLogger(logDir string, opts Options) (*Logger, error) {
	dir, err := homedir.Expand(logDir)
	if err != nil {
		return nil, fmt.Errorf("audit dir %q: %w", logDir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	stamp, err := strftime.New(TimestampFormat, strftime.WithMilliseconds('L'))
	if err != nil {
		return nil, err
	}

	filePath := filepath.Join(dir, "audit.jsonl")
	return &Logger{
		filePath: filePath,
		out: &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		},
		stamp: stamp,
		now:   time.Now,
	}, nil
}

type userKey struct{}

// WithUser attaches the acting subject to ctx.
func WithUser(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, userKey{}, subject)
}

// UserFromContext returns the subject set by WithUser, or "system".
func UserFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(userKey{}).(string); ok && s != "" {
		return s
	}
	return "system"
}

// LogControlAction records one executed command. It implements
// radio.AuditLogger; modulation and sequence are lifted out of params.
func (l *Logger) LogControlAction(ctx context.Context, action, radioID string, params map[string]interface{}, outcome string, err error) {
	entry := AuditEntry{
		User:    UserFromContext(ctx),
		Unit:    radioID,
		Command: action,
		Outcome: outcome,
		Code:    Code(err),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if len(params) > 0 {
		rest := make(map[string]interface{}, len(params))
		for k, v := range params {
			switch k {
			case "modulation":
				entry.Modulation, _ = v.(string)
			case "sequence":
				entry.Sequence, _ = v.(uint32)
			default:
				rest[k] = v
			}
		}
		if len(rest) > 0 {
			entry.Params = rest
		}
	}
	l.writeEntry(entry)
}

// LogEvent records a unit lifecycle event that is not tied to a command.
func (l *Logger) LogEvent(ev radio.Event) {
	entry := AuditEntry{
		User:     "system",
		Unit:     ev.Unit.String(),
		Command:  "event:" + ev.Flags.String(),
		Sequence: ev.Sequence,
		Outcome:  "SUCCESS",
		Code:     Code(ev.Err),
	}
	if ev.Err != nil {
		entry.Outcome = "FAILED"
		entry.Error = ev.Err.Error()
	}
	l.writeEntry(entry)
}

// PublishEvent audits unit events. Received frames are left to telemetry.
func (l *Logger) PublishEvent(ev radio.Event) {
	if ev.Flags == radio.EventFrame {
		return
	}
	l.LogEvent(ev)
}

// writeEntry writes an audit entry to the log file.
func (l *Logger) writeEntry(entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return
	}

	entry.Timestamp = l.stamp.FormatString(l.now().UTC())
	jsonData, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal audit entry: %v\n", err)
		return
	}
	if _, err := l.out.Write(append(jsonData, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write audit entry: %v\n", err)
	}
}

// codes maps core errors to audit codes, most specific first.
var codes = []struct {
	err  error
	code string
}{
	{radio.ErrInvalidFrequency, "INVALID_RANGE"},
	{radio.ErrInvalidUnit, "NOT_FOUND"},
	{radio.ErrTimeout, "BUSY"},
	{radio.ErrTaskInUse, "BUSY"},
	{radio.ErrTerminated, "UNAVAILABLE"},
	{radio.ErrAborted, "UNAVAILABLE"},
	{radio.ErrSessionOpen, "INVALID_STATE"},
	{radio.ErrNoSession, "INVALID_STATE"},
	{radio.ErrSendRejected, "REJECTED"},
	{radio.ErrTransmitTimeout, "TX_TIMEOUT"},
	{radio.ErrTransmitStart, "TX_FAILED"},
	{radio.ErrReceiveResume, "RX_RESUME_FAILED"},
	{radio.ErrBufferManager, "RESOURCE"},
	{radio.ErrCallbackManager, "RESOURCE"},
	{radio.ErrDecoderStart, "RESOURCE"},
}

// Code classifies err for the audit record.
func Code(err error) string {
	if err == nil {
		return "SUCCESS"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "ERROR"
}

// Close closes the audit logger and its file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	return err
}

// GetFilePath returns the path to the audit log file.
func (l *Logger) GetFilePath() string {
	return l.filePath
}

// Rotate closes the current file and starts a new one; lumberjack keeps
// the old file as a timestamped backup.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	lj, ok := l.out.(*lumberjack.Logger)
	if !ok {
		return errors.New("audit log closed")
	}
	if err := lj.Rotate(); err != nil {
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}
	return nil
}
