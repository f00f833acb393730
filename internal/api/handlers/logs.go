package handlers

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/unreal-server-manager/internal/archive"
	"github.com/yourusername/unreal-server-manager/internal/console"
	"github.com/yourusername/unreal-server-manager/internal/logbuffer"
	"github.com/yourusername/unreal-server-manager/internal/supervisor"
)

const (
	defaultTail = 200
	maxLines    = logbuffer.DefaultCapacity
)

// LogHandler serves retained server output and its archives
type LogHandler struct {
	supervisor *supervisor.Supervisor
	archives   *archive.Manager
}

// NewLogHandler creates a log handler. archives may be nil when archiving
// is disabled.
func NewLogHandler(sup *supervisor.Supervisor, archives *archive.Manager) *LogHandler {
	return &LogHandler{supervisor: sup, archives: archives}
}

// GetLogs returns the newest retained lines, optionally filtered by
// severity, substring or regular expression.
func (h *LogHandler) GetLogs(c *gin.Context) {
	serverID := c.Param("id")
	limit := queryInt(c, "limit", defaultTail, maxLines)

	filterType := c.DefaultQuery("filter", console.FilterNone)
	if filterType == console.FilterNone {
		entries, err := h.supervisor.TailLogs(serverID, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"server_id": serverID, "lines": entries})
		return
	}

	filter, err := console.NewOutputFilter(filterType, c.Query("q"), queryBool(c, "case_sensitive"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entries, err := h.supervisor.SnapshotLogs(serverID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"server_id": serverID, "lines": filter.Apply(entries, limit)})
}

// SearchLogs returns retained lines containing q
func (h *LogHandler) SearchLogs(c *gin.Context) {
	serverID := c.Param("id")
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter q is required"})
		return
	}

	matches, err := h.supervisor.SearchLogs(serverID, query, queryBool(c, "case_sensitive"))
	if err != nil {
		respondError(c, err)
		return
	}

	entries := slices.Collect(matches)
	total := len(entries)
	if limit := queryInt(c, "limit", maxLines, maxLines); len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	c.JSON(http.StatusOK, gin.H{
		"server_id": serverID,
		"query":     query,
		"total":     total,
		"lines":     entries,
	})
}

// ClearLogs empties the retained output of a server
func (h *LogHandler) ClearLogs(c *gin.Context) {
	if err := h.supervisor.ClearLogs(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ExportLogs downloads the retained output as plain text
func (h *LogHandler) ExportLogs(c *gin.Context) {
	serverID := c.Param("id")

	var buf bytes.Buffer
	if err := h.supervisor.ExportLogs(serverID, &buf); err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.log"`, serverID))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
}

// CreateArchive archives the retained output of a server now
func (h *LogHandler) CreateArchive(c *gin.Context) {
	if h.archives == nil {
		respondError(c, errArchivingDisabled)
		return
	}

	serverID := c.Param("id")
	if _, err := h.supervisor.GetStatus(serverID); err != nil {
		respondError(c, err)
		return
	}

	records, err := h.archives.ArchiveServer(serverID)
	if err != nil {
		if len(records) == 0 {
			respondError(c, err)
			return
		}
		log.Printf("[Archive] Archive of %s partially failed: %v", serverID, err)
		c.JSON(http.StatusOK, gin.H{"archives": records, "error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"archives": records})
}

// ListArchives lists stored archives of a server, newest first
func (h *LogHandler) ListArchives(c *gin.Context) {
	if h.archives == nil {
		respondError(c, errArchivingDisabled)
		return
	}

	records, err := h.archives.ListArchives(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// GetArchive returns one archive record
func (h *LogHandler) GetArchive(c *gin.Context) {
	if h.archives == nil {
		respondError(c, errArchivingDisabled)
		return
	}

	record, err := h.archives.GetArchive(c.Param("archiveId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// DownloadArchive streams an archive. With decompress=true the plain text
// is returned instead of the gzip file.
func (h *LogHandler) DownloadArchive(c *gin.Context) {
	if h.archives == nil {
		respondError(c, errArchivingDisabled)
		return
	}

	decompressed := queryBool(c, "decompress")

	var buf bytes.Buffer
	record, err := h.archives.Download(c.Param("archiveId"), &buf, decompressed)
	if err != nil {
		respondError(c, err)
		return
	}

	filename := record.Filename
	contentType := "application/gzip"
	if decompressed {
		filename = strings.TrimSuffix(filename, ".gz")
		contentType = "text/plain; charset=utf-8"
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

// DeleteArchive removes an archive from its destination
func (h *LogHandler) DeleteArchive(c *gin.Context) {
	if h.archives == nil {
		respondError(c, errArchivingDisabled)
		return
	}

	if err := h.archives.DeleteArchive(c.Param("archiveId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
