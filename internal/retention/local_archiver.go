package retention

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/conductor/pkg/models"
)

// LocalFileArchiver writes expired records as JSONL files to a local
// directory, the zero-configuration default archive backend.
//
// Directory structure:
//
//	{basePath}/events/2026-02-20T15-04-05Z.jsonl[.gz]
//	{basePath}/audit/2026-02-20T15-04-05Z.jsonl[.gz]
type LocalFileArchiver struct {
	basePath string
	compress bool
}

// NewLocalFileArchiver creates a file-based archiver. If basePath is
// empty it defaults to "~/.conductor/archive".
func NewLocalFileArchiver(basePath string, compress bool) *LocalFileArchiver {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			basePath = "/tmp/conductor/archive"
		} else {
			basePath = filepath.Join(home, ".conductor", "archive")
		}
	}
	return &LocalFileArchiver{basePath: basePath, compress: compress}
}

func (a *LocalFileArchiver) Kind() string { return "local" }

func (a *LocalFileArchiver) writeBatch(dir string, encode func(*json.Encoder) error) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	filename := time.Now().UTC().Format("2006-01-02T15-04-05Z") + ".jsonl"
	if a.compress {
		filename += ".gz"
	}
	fpath := filepath.Join(dir, filename)

	f, err := os.Create(fpath)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if a.compress {
		gw := gzip.NewWriter(f)
		defer gw.Close()
		enc = json.NewEncoder(gw)
	}
	if err := encode(enc); err != nil {
		return "", err
	}
	return fpath, nil
}

// ArchiveEvents writes a batch of event envelopes to a JSONL file and
// returns its path.
func (a *LocalFileArchiver) ArchiveEvents(_ context.Context, events []models.EventEnvelope) (string, error) {
	fpath, err := a.writeBatch(filepath.Join(a.basePath, "events"), func(enc *json.Encoder) error {
		for _, e := range events {
			if err := enc.Encode(e); err != nil {
				return fmt.Errorf("encode event %s: %w", e.SourceEventID, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	log.Debug().Str("path", fpath).Int("count", len(events)).Msg("retention: archived events to local file")
	return fpath, nil
}

// ArchiveAuditLog writes a batch of audit log entries to a JSONL file
// and returns its path.
func (a *LocalFileArchiver) ArchiveAuditLog(_ context.Context, entries []models.AuditLogEntry) (string, error) {
	fpath, err := a.writeBatch(filepath.Join(a.basePath, "audit"), func(enc *json.Encoder) error {
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return fmt.Errorf("encode audit entry %s: %w", e.EntityID, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	log.Debug().Str("path", fpath).Int("count", len(entries)).Msg("retention: archived audit log to local file")
	return fpath, nil
}

// HealthCheck verifies the base path is writable.
func (a *LocalFileArchiver) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(a.basePath, 0o755); err != nil {
		return fmt.Errorf("archive path not writable: %w", err)
	}
	testFile := filepath.Join(a.basePath, ".healthcheck")
	if err := os.WriteFile(testFile, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("archive path not writable: %w", err)
	}
	os.Remove(testFile)
	return nil
}
