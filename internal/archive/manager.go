package archive

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/unreal-server-manager/internal/supervisor"
)

var (
	ErrNoDestinations   = errors.New("no archive destinations configured")
	ErrNothingToArchive = errors.New("no log lines to archive")
	ErrArchiveNotFound  = errors.New("archive not found")
)

// Archive statuses
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusDeleted   = "deleted"
)

// LogSource provides retained server output.
type LogSource interface {
	ExportLogs(id string, w io.Writer) error
	ListServers() []supervisor.ServerInfo
}

// Record is one archive stored at one destination.
type Record struct {
	ID              string    `json:"id"`
	ServerID        string    `json:"server_id"`
	Filename        string    `json:"filename"`
	SizeBytes       int64     `json:"size_bytes"`
	LineCount       int       `json:"line_count"`
	CreatedAt       time.Time `json:"created_at"`
	DestinationType string    `json:"destination_type"`
	DestinationPath string    `json:"destination_path"`
	Status          string    `json:"status"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// Options configures a Manager.
type Options struct {
	Destinations     []*DestinationConfig
	RetentionCount   int // archives kept per server and destination, 0 keeps all
	CompressionLevel int
	// OnArchive is called once per destination upload attempt.
	OnArchive func(serverID, filename string, err error)
}

// Manager exports server logs into gzip archives and uploads them.
type Manager struct {
	db     *sql.DB
	source LogSource
	opts   Options

	open func(*DestinationConfig) (Destination, error)
	now  func() time.Time

	mu sync.Mutex // one archive run at a time
}

func NewManager(db *sql.DB, source LogSource, opts Options) *Manager {
	return &Manager{
		db:     db,
		source: source,
		opts:   opts,
		open:   NewDestination,
		now:    time.Now,
	}
}

// ArchiveServer archives the retained output of one server to every
// destination. Records are returned even when some uploads failed.
func (m *Manager) ArchiveServer(serverID string) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.archiveServer(serverID)
}

func (m *Manager) archiveServer(serverID string) ([]*Record, error) {
	if len(m.opts.Destinations) == 0 {
		return nil, ErrNoDestinations
	}

	now := m.now()
	filename := fmt.Sprintf("%s_%s_%s%s", serverID, now.UTC().Format("20060102T150405Z"), uuid.NewString()[:8], archiveExtension)

	payload, err := compressExport(filename, m.opts.CompressionLevel, now, func(w io.Writer) error {
		return m.source.ExportLogs(serverID, w)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to export logs: %w", err)
	}
	if payload.lineCount == 0 {
		return nil, ErrNothingToArchive
	}

	log.Printf("[Archive] Archiving %d lines of %s as %s (%d bytes)", payload.lineCount, serverID, filename, len(payload.data))

	var records []*Record
	var errs []error
	for _, destConfig := range m.opts.Destinations {
		record := &Record{
			ID:              "archive-" + uuid.NewString()[:8],
			ServerID:        serverID,
			Filename:        filename,
			SizeBytes:       int64(len(payload.data)),
			LineCount:       payload.lineCount,
			CreatedAt:       now,
			DestinationType: destConfig.Type,
			DestinationPath: destConfig.Path,
			Status:          StatusPending,
		}
		if err := m.saveRecord(record); err != nil {
			log.Printf("[Archive] Warning: Failed to save record: %v", err)
		}

		err := m.upload(destConfig, filename, payload.data)
		if err != nil {
			record.Status = StatusFailed
			record.ErrorMessage = err.Error()
			errs = append(errs, fmt.Errorf("%s destination: %w", destConfig.Type, err))
		} else {
			record.Status = StatusCompleted
		}
		if err := m.saveRecord(record); err != nil {
			log.Printf("[Archive] Warning: Failed to update record: %v", err)
		}
		if m.opts.OnArchive != nil {
			m.opts.OnArchive(serverID, filename, err)
		}
		records = append(records, record)

		if record.Status == StatusCompleted {
			if err := m.enforceRetention(serverID, destConfig); err != nil {
				log.Printf("[Archive] Retention failed for %s: %v", serverID, err)
			}
		}
	}

	return records, errors.Join(errs...)
}

func (m *Manager) upload(destConfig *DestinationConfig, filename string, data []byte) error {
	dest, err := m.open(destConfig)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	if closer, ok := dest.(io.Closer); ok {
		defer closer.Close()
	}

	if err := dest.Upload(filename, bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("failed to upload: %w", err)
	}
	return nil
}

// ArchiveAll archives every server that has retained output. Servers with
// nothing to archive are skipped.
func (m *Manager) ArchiveAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, info := range m.source.ListServers() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.LogLines == 0 {
			continue
		}
		if _, err := m.archiveServer(info.Config.ID); err != nil && !errors.Is(err, ErrNothingToArchive) {
			errs = append(errs, fmt.Errorf("server %s: %w", info.Config.ID, err))
		}
	}
	return errors.Join(errs...)
}

// enforceRetention deletes the oldest completed archives of a server at one
// destination beyond the retention count.
func (m *Manager) enforceRetention(serverID string, destConfig *DestinationConfig) error {
	keep := m.opts.RetentionCount
	if keep <= 0 {
		return nil
	}

	records, err := m.ListArchives(serverID)
	if err != nil {
		return err
	}

	var completed []*Record
	for _, record := range records {
		if record.Status == StatusCompleted &&
			record.DestinationType == destConfig.Type &&
			record.DestinationPath == destConfig.Path {
			completed = append(completed, record)
		}
	}
	if len(completed) <= keep {
		return nil
	}

	sort.Slice(completed, func(i, j int) bool {
		return completed[i].CreatedAt.After(completed[j].CreatedAt)
	})

	dest, err := m.open(destConfig)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	if closer, ok := dest.(io.Closer); ok {
		defer closer.Close()
	}

	deleted := 0
	for _, record := range completed[keep:] {
		if err := dest.Delete(record.Filename); err != nil {
			log.Printf("[Archive] Error deleting %s: %v", record.Filename, err)
			continue
		}
		record.Status = StatusDeleted
		if err := m.saveRecord(record); err != nil {
			log.Printf("[Archive] Warning: Failed to update record: %v", err)
		}
		deleted++
	}

	log.Printf("[Archive] Retention for %s at %s: deleted %d archives (keep %d)", serverID, destConfig.Type, deleted, keep)
	return nil
}

// Download writes the archive contents to w. With decompress set the
// plain text export is written instead of the gzip stream.
func (m *Manager) Download(archiveID string, w io.Writer, decompressed bool) (*Record, error) {
	record, err := m.GetArchive(archiveID)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: archive is %s", ErrArchiveNotFound, record.Status)
	}

	destConfig := m.destinationFor(record)
	if destConfig == nil {
		return nil, fmt.Errorf("destination %s %s is no longer configured", record.DestinationType, record.DestinationPath)
	}

	dest, err := m.open(destConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create destination: %w", err)
	}
	if closer, ok := dest.(io.Closer); ok {
		defer closer.Close()
	}

	if !decompressed {
		return record, dest.Download(record.Filename, w)
	}

	var buf bytes.Buffer
	if err := dest.Download(record.Filename, &buf); err != nil {
		return nil, err
	}
	plain, err := decompress(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress archive: %w", err)
	}
	_, err = w.Write(plain)
	return record, err
}

// DeleteArchive removes an archive from its destination and marks it deleted.
func (m *Manager) DeleteArchive(archiveID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, err := m.GetArchive(archiveID)
	if err != nil {
		return err
	}

	if destConfig := m.destinationFor(record); destConfig != nil && record.Status == StatusCompleted {
		dest, err := m.open(destConfig)
		if err != nil {
			return fmt.Errorf("failed to create destination: %w", err)
		}
		if closer, ok := dest.(io.Closer); ok {
			defer closer.Close()
		}
		if err := dest.Delete(record.Filename); err != nil {
			log.Printf("[Archive] Warning: Failed to delete from destination: %v", err)
		}
	}

	record.Status = StatusDeleted
	return m.saveRecord(record)
}

func (m *Manager) destinationFor(record *Record) *DestinationConfig {
	for _, destConfig := range m.opts.Destinations {
		if destConfig.Type == record.DestinationType && destConfig.Path == record.DestinationPath {
			return destConfig
		}
	}
	return nil
}

const recordColumns = `id, server_id, filename, size_bytes, line_count, created_at,
	destination_type, destination_path, status, error_message`

// ListArchives returns the non-deleted archives of a server, newest first.
func (m *Manager) ListArchives(serverID string) ([]*Record, error) {
	rows, err := m.db.Query(`
		SELECT `+recordColumns+`
		FROM log_archives
		WHERE server_id = ? AND status != 'deleted'
		ORDER BY created_at DESC
	`, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to query archives: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetArchive retrieves one archive record.
func (m *Manager) GetArchive(archiveID string) (*Record, error) {
	row := m.db.QueryRow(`SELECT `+recordColumns+` FROM log_archives WHERE id = ?`, archiveID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, archiveID)
	}
	return record, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	record := &Record{}
	var errorMsg sql.NullString
	err := row.Scan(
		&record.ID,
		&record.ServerID,
		&record.Filename,
		&record.SizeBytes,
		&record.LineCount,
		&record.CreatedAt,
		&record.DestinationType,
		&record.DestinationPath,
		&record.Status,
		&errorMsg,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan archive record: %w", err)
	}
	record.ErrorMessage = errorMsg.String
	return record, nil
}

// saveRecord saves or updates an archive record
func (m *Manager) saveRecord(record *Record) error {
	_, err := m.db.Exec(`
		INSERT OR REPLACE INTO log_archives
		(`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.ServerID,
		record.Filename,
		record.SizeBytes,
		record.LineCount,
		record.CreatedAt,
		record.DestinationType,
		record.DestinationPath,
		record.Status,
		sql.NullString{String: record.ErrorMessage, Valid: record.ErrorMessage != ""},
	)
	if err != nil {
		return fmt.Errorf("failed to save archive record: %w", err)
	}
	return nil
}
