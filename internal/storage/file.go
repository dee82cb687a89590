package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "factbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.facts.jsonl  (append-only JSON Lines)
//   - <prefix>.prefs.json   (snapshot, rewritten on change)
//
// Pruning rewrites the facts file in place via a temp file.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	factsPath string
	factsFile *os.File

	prefsPath string
	prefs     map[int64]string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	factsPath := prefix + ".facts.jsonl"
	prefsPath := prefix + ".prefs.json"

	ff, err := os.OpenFile(factsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	prefs := map[int64]string{}
	_ = loadPrefsSnapshot(prefsPath, prefs)

	return &fileStore{
		log:       log,
		factsPath: factsPath,
		factsFile: ff,
		prefsPath: prefsPath,
		prefs:     prefs,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.factsFile != nil {
		err := s.factsFile.Close()
		s.factsFile = nil
		return err
	}
	return nil
}

func (s *fileStore) SetUserLanguage(ctx context.Context, userID int64, lang string) error {
	_ = ctx
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefs == nil {
		s.prefs = map[int64]string{}
	}
	s.prefs[userID] = lang
	return s.savePrefsLocked()
}

func (s *fileStore) GetUserLanguage(ctx context.Context, userID int64) (string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	lang, ok := s.prefs[userID]
	return lang, ok, nil
}

func (s *fileStore) AppendFact(ctx context.Context, e FactEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.factsFile == nil {
		return errors.New("facts file closed")
	}
	return json.NewEncoder(s.factsFile).Encode(e)
}

func (s *fileStore) PruneFacts(ctx context.Context, olderThan time.Time) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.factsFile == nil {
		return 0, errors.New("facts file closed")
	}

	in, err := os.Open(s.factsPath)
	if err != nil {
		return 0, err
	}
	tmp := s.factsPath + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		_ = in.Close()
		return 0, err
	}

	var removed int64
	enc := json.NewEncoder(out)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e FactEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if e.At.Before(olderThan) {
			removed++
			continue
		}
		if err := enc.Encode(e); err != nil {
			_ = in.Close()
			_ = out.Close()
			return 0, err
		}
	}
	scanErr := sc.Err()
	_ = in.Close()
	if err := out.Close(); err != nil {
		return 0, err
	}
	if scanErr != nil {
		return 0, scanErr
	}

	// Swap the rewritten file in and reopen the append handle.
	_ = s.factsFile.Close()
	s.factsFile = nil
	if err := os.Rename(tmp, s.factsPath); err != nil {
		return 0, err
	}
	ff, err := os.OpenFile(s.factsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return removed, err
	}
	s.factsFile = ff
	return removed, nil
}

func (s *fileStore) CountFacts(ctx context.Context, since time.Time) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	in, err := os.Open(s.factsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer in.Close()

	var n int64
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e FactEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if !e.At.Before(since) {
			n++
		}
	}
	return n, sc.Err()
}

func (s *fileStore) savePrefsLocked() error {
	tmp := s.prefsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.prefs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.prefsPath)
}

func loadPrefsSnapshot(path string, out map[int64]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[int64]string
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}
