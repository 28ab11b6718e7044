package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gzhole/mailshield/internal/engine"
	"github.com/gzhole/mailshield/internal/message"
	"github.com/gzhole/mailshield/internal/secrets"
)

// defaultMaxLogBytes is the size at which the audit file is rotated on open.
const defaultMaxLogBytes = 10 << 20

// AuditEvent is one line of the audit trail.
type AuditEvent struct {
	Timestamp        string   `json:"timestamp"`
	VerdictID        string   `json:"verdict_id"`
	Subject          string   `json:"subject,omitempty"`
	Sender           string   `json:"sender,omitempty"`
	Score            float64  `json:"score"`
	CriticalConcerns []string `json:"critical_concerns,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
	Analyzers        []string `json:"analyzers,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// AuditLogger appends verdicts to a JSONL file.
type AuditLogger struct {
	file *os.File
	mu   sync.Mutex
}

// NewAuditLogger opens path for appending, rotating it to path+".1" first
// when it has grown past the size limit.
func NewAuditLogger(path string) (*AuditLogger, error) {
	if err := rotate(path, defaultMaxLogBytes); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	return &AuditLogger{file: file}, nil
}

func rotate(path string, limit int64) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < limit {
		return nil
	}
	if err := os.Rename(path, path+".1"); err != nil {
		return fmt.Errorf("rotate audit log: %w", err)
	}
	return nil
}

// Log writes event after redacting free-text fields.
func (l *AuditLogger) Log(event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Redact sensitive data before logging
	event.Subject = secrets.Redact(event.Subject)
	event.Warnings = secrets.RedactAll(event.Warnings)
	if event.Error != "" {
		event.Error = secrets.Redact(event.Error)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	data = append(data, '\n')
	_, err = l.file.Write(data)
	return err
}

// Record implements engine.Auditor.
func (l *AuditLogger) Record(msg *message.Message, v engine.Verdict) error {
	names := make([]string, 0, len(v.PerAnalyzer))
	for name := range v.PerAnalyzer {
		names = append(names, name)
	}
	sort.Strings(names)

	return l.Log(AuditEvent{
		Timestamp:        v.AnalyzedAt.UTC().Format(time.RFC3339),
		VerdictID:        v.ID,
		Subject:          msg.Subject(),
		Sender:           msg.From(),
		Score:            v.Score,
		CriticalConcerns: v.CriticalConcerns,
		Warnings:         v.Warnings,
		Analyzers:        names,
	})
}

func (l *AuditLogger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
