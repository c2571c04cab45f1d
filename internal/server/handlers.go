package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/BadgerOps/darbackup/internal/catalog"
	"github.com/BadgerOps/darbackup/internal/definition"
	"github.com/BadgerOps/darbackup/internal/engine"
)

// SliceJSON is the JSON representation of one archive slice.
type SliceJSON struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Size  int64  `json:"size"`
}

// RecordJSON is the JSON representation of a catalog record.
type RecordJSON struct {
	Ref           string      `json:"ref"`
	Definition    string      `json:"definition"`
	Type          string      `json:"type"`
	Date          string      `json:"date"`
	CreatedAt     time.Time   `json:"created_at"`
	Archive       string      `json:"archive"`
	SliceCount    int         `json:"slice_count"`
	TotalSize     int64       `json:"total_size"`
	TotalSizeText string      `json:"total_size_text"`
	AntecedentRef string      `json:"antecedent_ref,omitempty"`
	Engine        string      `json:"engine"`
	Slices        []SliceJSON `json:"slices,omitempty"`
}

func recordToJSON(rec *catalog.Record) RecordJSON {
	out := RecordJSON{
		Ref:           rec.Ref,
		Definition:    rec.Definition,
		Type:          rec.Type.String(),
		Date:          rec.Date,
		CreatedAt:     rec.CreatedAt,
		Archive:       rec.ArchiveBase,
		SliceCount:    rec.SliceCount,
		TotalSize:     rec.TotalSize,
		TotalSizeText: humanize.IBytes(uint64(rec.TotalSize)),
		AntecedentRef: rec.AntecedentRef,
		Engine:        rec.Engine,
	}
	for _, sl := range rec.Slices {
		out.Slices = append(out.Slices, SliceJSON{Index: sl.Index, Name: sl.Name, Size: sl.Size})
	}
	return out
}

// DefinitionJSON is the JSON representation of a backup definition.
type DefinitionJSON struct {
	Name        string   `json:"name"`
	Valid       bool     `json:"valid"`
	Error       string   `json:"error,omitempty"`
	Roots       []string `json:"roots,omitempty"`
	Compression string   `json:"compression,omitempty"`
	SliceSize   int64    `json:"slice_size,omitempty"`
	Args        []string `json:"args,omitempty"`
}

// ChainStatusJSON is the JSON representation of one definition's chain.
type ChainStatusJSON struct {
	Definition    string      `json:"definition"`
	Configured    bool        `json:"configured"`
	Records       int         `json:"records"`
	TotalSize     int64       `json:"total_size"`
	TotalSizeText string      `json:"total_size_text"`
	LastFull      *RecordJSON `json:"last_full,omitempty"`
	LastDiff      *RecordJSON `json:"last_diff,omitempty"`
	LastIncr      *RecordJSON `json:"last_incr,omitempty"`
	LastBackup    string      `json:"last_backup,omitempty"`
	Allowed       []string    `json:"allowed"`
}

func (s *Server) chainToJSON(st *engine.ChainStatus) ChainStatusJSON {
	out := ChainStatusJSON{
		Definition:    st.Definition,
		Configured:    st.Configured,
		Records:       st.Records,
		TotalSize:     st.TotalSize,
		TotalSizeText: humanize.IBytes(uint64(st.TotalSize)),
		Allowed:       make([]string, 0, len(st.Allowed)),
	}
	for _, pair := range []struct {
		dst **RecordJSON
		rec *catalog.Record
	}{{&out.LastFull, st.LastFull}, {&out.LastDiff, st.LastDiff}, {&out.LastIncr, st.LastIncr}} {
		if pair.rec != nil {
			j := recordToJSON(pair.rec)
			*pair.dst = &j
		}
	}
	if last := st.LastBackup(); last != nil {
		out.LastBackup = humanize.RelTime(last.CreatedAt, s.now(), "ago", "from now")
	}
	for _, t := range st.Allowed {
		out.Allowed = append(out.Allowed, t.String())
	}
	return out
}

// AuditJSON is the JSON representation of an audit report.
type AuditJSON struct {
	BackupDir   string               `json:"backup_dir"`
	Clean       bool                 `json:"clean"`
	Definitions int                  `json:"definitions"`
	Records     int                  `json:"records"`
	Violations  []AuditViolationJSON `json:"violations"`
	Missing     []AuditMissingJSON   `json:"missing"`
	Orphans     []AuditOrphanJSON    `json:"orphans"`
}

// AuditViolationJSON is a chain violation.
type AuditViolationJSON struct {
	Definition string `json:"definition"`
	Ref        string `json:"ref"`
	Type       string `json:"type"`
	Reason     string `json:"reason"`
}

// AuditMissingJSON is a record with missing slices.
type AuditMissingJSON struct {
	Ref     string `json:"ref"`
	Archive string `json:"archive"`
	Found   int    `json:"found"`
	Want    int    `json:"want"`
	Reason  string `json:"reason"`
}

// AuditOrphanJSON is an unrecorded slice group.
type AuditOrphanJSON struct {
	Archive   string   `json:"archive"`
	Slices    []string `json:"slices"`
	TotalSize int64    `json:"total_size"`
}

func auditToJSON(r *engine.AuditReport) AuditJSON {
	out := AuditJSON{
		BackupDir:   r.BackupDir,
		Clean:       r.Clean(),
		Definitions: r.Definitions,
		Records:     r.Records,
		Violations:  make([]AuditViolationJSON, 0, len(r.Violations)),
		Missing:     make([]AuditMissingJSON, 0, len(r.Missing)),
		Orphans:     make([]AuditOrphanJSON, 0, len(r.Orphans)),
	}
	for _, v := range r.Violations {
		out.Violations = append(out.Violations, AuditViolationJSON{
			Definition: v.Definition,
			Ref:        v.Ref,
			Type:       v.Type.String(),
			Reason:     v.Reason,
		})
	}
	for _, m := range r.Missing {
		out.Missing = append(out.Missing, AuditMissingJSON{
			Ref:     m.Record.Ref,
			Archive: m.Record.ArchiveBase,
			Found:   m.Found,
			Want:    m.Record.SliceCount,
			Reason:  m.Reason,
		})
	}
	for _, o := range r.Orphans {
		out.Orphans = append(out.Orphans, AuditOrphanJSON{Archive: o.Base, Slices: o.Slices, TotalSize: o.TotalSize})
	}
	return out
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAPIRecords lists catalog records, optionally filtered by
// ?definition=, ?type= and ?limit=. A backup directory without a catalog has
// no records; the server never creates one.
func (s *Server) handleAPIRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := catalog.ListFilter{Definition: q.Get("definition")}

	if v := q.Get("type"); v != "" {
		t, err := catalog.ParseBackupType(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Type = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	store, err := s.manager.OpenExisting(s.config.Paths.BackupDir)
	if errors.Is(err, engine.ErrNoCatalog) {
		s.writeJSON(w, http.StatusOK, []RecordJSON{})
		return
	}
	if err != nil {
		s.logger.Error("failed to open catalog", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "catalog unavailable")
		return
	}
	records, err := store.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list records", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}

	response := make([]RecordJSON, 0, len(records))
	for i := range records {
		response = append(response, recordToJSON(&records[i]))
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleAPIRecord returns one record with its slices.
func (s *Server) handleAPIRecord(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	if ref == "" {
		s.writeError(w, http.StatusBadRequest, "record reference required")
		return
	}

	store, err := s.manager.OpenExisting(s.config.Paths.BackupDir)
	if errors.Is(err, engine.ErrNoCatalog) {
		s.writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to open catalog", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "catalog unavailable")
		return
	}
	rec, err := store.Get(r.Context(), ref)
	if errors.Is(err, catalog.ErrNoRecord) {
		s.writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get record", "ref", ref, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get record")
		return
	}
	s.writeJSON(w, http.StatusOK, recordToJSON(rec))
}

// handleAPIDefinitions lists the definitions directory. Invalid definitions
// are listed with their parse error.
func (s *Server) handleAPIDefinitions(w http.ResponseWriter, r *http.Request) {
	defs := definition.NewStore(s.config.Paths.DefinitionsDir)
	names, err := defs.List()
	if err != nil {
		s.logger.Error("failed to list definitions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list definitions")
		return
	}

	response := make([]DefinitionJSON, 0, len(names))
	for _, name := range names {
		d, err := defs.Resolve(name)
		if err != nil {
			response = append(response, DefinitionJSON{Name: name, Error: err.Error()})
			continue
		}
		response = append(response, DefinitionJSON{
			Name:        name,
			Valid:       true,
			Roots:       d.Roots,
			Compression: d.Compression.String(),
			SliceSize:   d.SliceSize,
			Args:        d.Args(),
		})
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleAPIChains returns the chain summary of every definition.
func (s *Server) handleAPIChains(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.manager.Status(r.Context(), s.config.Paths.BackupDir, s.config.Paths.DefinitionsDir)
	if err != nil {
		s.logger.Error("failed to compute chain status", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "chain status unavailable")
		return
	}

	response := make([]ChainStatusJSON, 0, len(statuses))
	for i := range statuses {
		response = append(response, s.chainToJSON(&statuses[i]))
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleAPIChain returns the chain summary of one definition.
func (s *Server) handleAPIChain(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("definition")
	if name == "" {
		s.writeError(w, http.StatusBadRequest, "definition name required")
		return
	}

	statuses, err := s.manager.Status(r.Context(), s.config.Paths.BackupDir, s.config.Paths.DefinitionsDir)
	if err != nil {
		s.logger.Error("failed to compute chain status", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "chain status unavailable")
		return
	}
	for i := range statuses {
		if statuses[i].Definition == name {
			s.writeJSON(w, http.StatusOK, s.chainToJSON(&statuses[i]))
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "definition not found")
}

// handleAPIAudit cross-checks the catalog against the backup directory.
func (s *Server) handleAPIAudit(w http.ResponseWriter, r *http.Request) {
	report, err := s.manager.Audit(r.Context(), s.config.Paths.BackupDir)
	if err != nil {
		s.logger.Error("audit failed", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "audit unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, auditToJSON(report))
}
