package observability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"actionguard/internal/core"
)

// Exporter receives a copy of every audit entry. Implementations must be
// safe for concurrent use; slow sinks should buffer internally.
type Exporter interface {
	Name() string
	Export(entry core.AuditEntry) error
}

// ExporterSet fans audit entries out to registered exporters, each
// wrapped in its own circuit breaker. A panicking or persistently
// failing exporter is isolated: its breaker opens and the others keep
// receiving entries.
type ExporterSet struct {
	mu        sync.RWMutex
	exporters []wrappedExporter
	logger    *zap.Logger
}

type wrappedExporter struct {
	exporter Exporter
	breaker  *gobreaker.CircuitBreaker
}

func NewExporterSet(logger *zap.Logger) *ExporterSet {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExporterSet{logger: logger}
}

// Add registers an exporter behind a fresh circuit breaker.
func (s *ExporterSet) Add(exporter Exporter) {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "exporter:" + exporter.Name(),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.exporters = append(s.exporters, wrappedExporter{exporter: exporter, breaker: breaker})
}

// Export forwards the entry to every exporter. Failures and open
// breakers are logged, never propagated.
func (s *ExporterSet) Export(entry core.AuditEntry) {
	s.mu.RLock()
	exporters := make([]wrappedExporter, len(s.exporters))
	copy(exporters, s.exporters)
	s.mu.RUnlock()

	for _, w := range exporters {
		w := w
		_, err := w.breaker.Execute(func() (out any, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("exporter panic: %v", r)
				}
			}()
			return nil, w.exporter.Export(entry)
		})
		if err != nil {
			s.logger.Error("audit exporter failed",
				zap.String("exporter", w.exporter.Name()),
				zap.String("action_id", entry.ActionID),
				zap.Error(err),
			)
		}
	}
}

// Len returns the number of registered exporters.
func (s *ExporterSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.exporters)
}

// StdoutExporter writes audit entries as JSON lines, one per entry, for
// piping into log aggregators.
type StdoutExporter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewStdoutExporter writes to the given writer, defaulting to stdout.
func NewStdoutExporter(out io.Writer) *StdoutExporter {
	if out == nil {
		out = os.Stdout
	}
	return &StdoutExporter{out: out}
}

func (e *StdoutExporter) Name() string { return "stdout" }

func (e *StdoutExporter) Export(entry core.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.out.Write(append(data, '\n'))
	return err
}

// WebhookExporter POSTs each entry as JSON to a URL — Slack, PagerDuty,
// a custom dashboard.
type WebhookExporter struct {
	url     string
	headers map[string]string
	client  *http.Client
}

func NewWebhookExporter(url string, headers map[string]string, timeout time.Duration) *WebhookExporter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookExporter{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}
}

func (e *WebhookExporter) Name() string { return "webhook" }

func (e *WebhookExporter) Export(entry core.AuditEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range e.headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
