package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager owns the sessions directory. One Manager writes a session at a
// time; readers for listing and forking open files independently read-only.
type Manager struct {
	dir    string
	index  *Index
	logger *zap.Logger
}

// NewManager creates a session manager rooted at baseDir/sessions.
// The sqlite listing index is optional; failure to open it only disables
// fast listing.
func NewManager(baseDir string, logger *zap.Logger) (*Manager, error) {
	dir := filepath.Join(baseDir, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	m := &Manager{dir: dir, logger: logger}

	index, err := OpenIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		logger.Warn("session index unavailable, listings fall back to directory scan", zap.Error(err))
	} else {
		m.index = index
	}
	return m, nil
}

// Close releases the listing index.
func (m *Manager) Close() error {
	if m.index != nil {
		return m.index.Close()
	}
	return nil
}

func (m *Manager) path(sessionID string) string {
	return filepath.Join(m.dir, sessionID+".jsonl")
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// Create allocates a session id and writes the header line.
func (m *Manager) Create(title string) (Header, error) {
	header := Header{
		Version:   CurrentVersion,
		SessionID: uuid.NewString(),
		CreatedAt: nowMillis(),
		Title:     title,
	}
	if err := m.writeHeader(header); err != nil {
		return Header{}, err
	}
	return header, nil
}

func (m *Manager) writeHeader(header Header) error {
	line, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal session header: %w", err)
	}
	path := m.path(header.SessionID)
	if err := os.WriteFile(path, append(line, '\n'), 0o644); err != nil {
		return fmt.Errorf("write session header: %w", err)
	}
	if m.index != nil {
		if err := m.index.Upsert(Info{
			SessionID:       header.SessionID,
			Title:           header.Title,
			CreatedAt:       header.CreatedAt,
			UpdatedAt:       header.CreatedAt,
			ParentSessionID: header.ParentSessionID,
		}); err != nil {
			m.logger.Warn("session index upsert failed", zap.Error(err))
		}
	}
	return nil
}

// Append serializes the entry as one line and appends it. Each entry is a
// single write call so a crash can at worst leave one partial trailing line,
// which readers skip.
func (m *Manager) Append(sessionID string, entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal session entry: %w", err)
	}
	f, err := os.OpenFile(m.path(sessionID), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append session entry: %w", err)
	}
	if m.index != nil {
		if err := m.index.Touch(sessionID, nowMillis()); err != nil {
			m.logger.Warn("session index touch failed", zap.Error(err))
		}
	}
	return nil
}

// Load reads the header and all entries in file order. Unparseable lines
// (including a torn final line) are skipped, not fatal.
func (m *Manager) Load(sessionID string) (Header, []Entry, error) {
	return loadSessionFile(m.path(sessionID))
}

func loadSessionFile(path string) (Header, []Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		return Header{}, nil, fmt.Errorf("session file %s is empty", path)
	}
	var header Header
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return Header{}, nil, fmt.Errorf("parse session header: %w", err)
	}

	var entries []Entry
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if entry.ID == "" {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return Header{}, nil, fmt.Errorf("read session file: %w", err)
	}
	return header, entries, nil
}

// Fork creates a new session whose header names the source session and the
// anchor entry, seeded with the linear history up to (and including) the
// anchor. The source file is never modified.
func (m *Manager) Fork(sessionID, entryID string) (Header, error) {
	_, entries, err := m.Load(sessionID)
	if err != nil {
		return Header{}, err
	}

	tree := BuildTree(entries)
	path := tree.PathTo(entryID)
	if len(path) == 0 {
		return Header{}, fmt.Errorf("entry %s not found in session %s", entryID, sessionID)
	}

	header := Header{
		Version:         CurrentVersion,
		SessionID:       uuid.NewString(),
		ParentSessionID: sessionID,
		ParentEntryID:   entryID,
		CreatedAt:       nowMillis(),
	}
	if err := m.writeHeader(header); err != nil {
		return Header{}, err
	}
	for _, entry := range path {
		if err := m.Append(header.SessionID, entry); err != nil {
			return Header{}, err
		}
	}
	return header, nil
}

// List returns session summaries, newest-updated first. Served from the
// sqlite index when available, otherwise by scanning the directory.
func (m *Manager) List() ([]Info, error) {
	if m.index != nil {
		infos, err := m.index.List()
		if err == nil {
			return infos, nil
		}
		m.logger.Warn("session index list failed, scanning directory", zap.Error(err))
	}
	return m.scanDir()
}

func (m *Manager) scanDir() ([]Info, error) {
	dirEntries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}
	infos := make([]Info, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".jsonl" {
			continue
		}
		header, entries, err := loadSessionFile(filepath.Join(m.dir, de.Name()))
		if err != nil {
			continue
		}
		info := Info{
			SessionID:       header.SessionID,
			Title:           header.Title,
			CreatedAt:       header.CreatedAt,
			UpdatedAt:       header.CreatedAt,
			EntryCount:      len(entries),
			ParentSessionID: header.ParentSessionID,
		}
		if fi, err := de.Info(); err == nil {
			info.UpdatedAt = fi.ModTime().UnixMilli()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt > infos[j].UpdatedAt
	})
	return infos, nil
}
