package durations

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/ethpandaops/durationoor/pkg/fsutil"
	"github.com/sirupsen/logrus"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Store persists node duration files and compiles them.
type Store interface {
	// NodeID returns the id of the node this store writes for.
	NodeID() string

	// BaseDir returns the directory holding all duration files.
	BaseDir() string

	// NodeFilePath returns the path of this node's duration file.
	NodeFilePath() string

	// CompiledFilePath returns the path of the compiled duration file.
	CompiledFilePath() string

	// SaveNodeDurations writes the record to this node's file, replacing
	// any previous content.
	SaveNodeDurations(r Record) error

	// ListNodeFiles returns the paths of every node file in the base
	// directory. The order is unspecified.
	ListNodeFiles() ([]string, error)

	// CompileDurations merges all node files, writes the compiled file and
	// returns the compiled record.
	CompileDurations() (Record, error)

	// Compile is CompileDurations with the full compilation details.
	Compile() (*Compilation, error)

	// GetCompiledDurations reads the compiled file. Missing, empty or
	// malformed files yield an empty record.
	GetCompiledDurations() Record
}

// Options configures a Store.
type Options struct {
	BaseDir string
	NodeID  string
	Owner   *fsutil.OwnerConfig
}

// SkippedFile is a node file that could not be used during a compile.
type SkippedFile struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// Compilation is the outcome of a compile.
type Compilation struct {
	Durations Record         `json:"durations"`
	Counts    map[string]int `json:"counts"`
	NodeFiles []string       `json:"node_files"`
	Skipped   []SkippedFile  `json:"skipped,omitempty"`
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log     logrus.FieldLogger
	baseDir string
	nodeID  string
	owner   *fsutil.OwnerConfig
}

// NewStore creates a Store for opts.NodeID, creating the base directory if
// it does not exist.
func NewStore(log logrus.FieldLogger, opts Options) (Store, error) {
	if err := ValidateNodeID(opts.NodeID); err != nil {
		return nil, err
	}

	baseDir := opts.BaseDir
	if baseDir == "" {
		baseDir = DefaultBaseDir
	}

	if err := fsutil.MkdirAll(baseDir, dirPerm, opts.Owner); err != nil {
		return nil, fmt.Errorf("creating base directory %s: %w", baseDir, err)
	}

	return &store{
		log: log.WithFields(logrus.Fields{
			"component": "durations",
			"node":      opts.NodeID,
		}),
		baseDir: baseDir,
		nodeID:  opts.NodeID,
		owner:   opts.Owner,
	}, nil
}

func (s *store) NodeID() string { return s.nodeID }

func (s *store) BaseDir() string { return s.baseDir }

func (s *store) NodeFilePath() string {
	return filepath.Join(s.baseDir, NodeFileName(s.nodeID))
}

func (s *store) CompiledFilePath() string {
	return filepath.Join(s.baseDir, CompiledFileName)
}

// SaveNodeDurations writes r as indented JSON to this node's file.
func (s *store) SaveNodeDurations(r Record) error {
	if r == nil {
		r = Record{}
	}

	path := s.NodeFilePath()

	if err := s.writeRecord(path, r); err != nil {
		return fmt.Errorf("saving node durations: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"path":  path,
		"tests": len(r),
	}).Info("Saved node durations")

	return nil
}

// ListNodeFiles returns all files following the node file naming convention.
func (s *store) ListNodeFiles() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("reading base directory: %w", err)
	}

	paths := make([]string, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		if _, ok := ParseNodeFileName(e.Name()); !ok {
			continue
		}

		paths = append(paths, filepath.Join(s.baseDir, e.Name()))
	}

	return paths, nil
}

func (s *store) CompileDurations() (Record, error) {
	c, err := s.Compile()
	if err != nil {
		return nil, err
	}

	return c.Durations, nil
}

// Compile reads all node files, averages every test id over the files that
// contain it and rewrites the compiled file.
func (s *store) Compile() (*Compilation, error) {
	files, err := s.ListNodeFiles()
	if err != nil {
		return nil, fmt.Errorf("listing node files: %w", err)
	}

	agg := NewAggregator()
	result := &Compilation{
		NodeFiles: make([]string, 0, len(files)),
	}

	for _, path := range files {
		r, err := readRecord(path)
		if err != nil {
			s.log.WithError(err).
				WithField("path", path).
				Error("Skipping unreadable node duration file")

			result.Skipped = append(result.Skipped, SkippedFile{
				Path: path,
				Err:  err.Error(),
			})

			continue
		}

		agg.Add(r)
		result.NodeFiles = append(result.NodeFiles, path)
	}

	result.Durations = agg.Result()
	result.Counts = agg.Counts()

	path := s.CompiledFilePath()

	if err := s.writeRecord(path, result.Durations); err != nil {
		return nil, fmt.Errorf("writing compiled durations: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"path":       path,
		"node_files": len(result.NodeFiles),
		"skipped":    len(result.Skipped),
		"tests":      len(result.Durations),
	}).Info("Compiled test durations")

	return result, nil
}

// GetCompiledDurations never fails: absent or broken compiled data means
// there is no history yet.
func (s *store) GetCompiledDurations() Record {
	path := s.CompiledFilePath()

	r, err := readRecord(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.WithField("path", path).Debug("No compiled durations found")
		} else {
			s.log.WithError(err).
				WithField("path", path).
				Warn("Ignoring unreadable compiled durations")
		}

		return Record{}
	}

	return r
}

func (s *store) writeRecord(path string, r Record) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	if err := fsutil.WriteFileAtomic(path, data, filePerm, s.owner); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"path": path,
		"size": units.HumanSize(float64(len(data))),
	}).Debug("Wrote duration file")

	return nil
}

// readRecord decodes a duration file. A JSON null document decodes to an
// empty record. Null or negative durations make the whole file invalid.
func readRecord(path string) (Record, error) {
	data, err := os.ReadFile(path) //nolint:gosec // paths come from the base directory
	if err != nil {
		return nil, err
	}

	var raw map[string]*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}

	r := make(Record, len(raw))

	for id, d := range raw {
		switch {
		case d == nil:
			return nil, fmt.Errorf("decoding %s: null duration for %q", filepath.Base(path), id)
		case *d < 0:
			return nil, fmt.Errorf("decoding %s: negative duration %v for %q", filepath.Base(path), *d, id)
		}

		r[id] = *d
	}

	return r, nil
}
