package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/xid"

	"go-tankloop/util"
)

// Default file names inside the run directory.
const (
	EnvironmentDir         = "Environment"
	PlantHistoryFile       = "EnvironmentHistory.csv"
	ControllerHistoryFile  = "ControllerHistory.csv"
	EnvironmentContextFile = "EnvironmentContext.json"
)

// Layout locates the files of one run below an output directory.
type Layout struct {
	// OutDir is the base of every other path.
	OutDir string
	// Subdir groups the run files below OutDir. Empty puts them directly in OutDir.
	Subdir string
}

// DefaultLayout returns the layout out/Environment/...
func DefaultLayout(out string) Layout {
	return Layout{OutDir: out, Subdir: EnvironmentDir}
}

func (l Layout) BaseDir() string {
	return filepath.Join(l.OutDir, l.Subdir)
}

func (l Layout) PlantHistoryPath() string {
	return filepath.Join(l.BaseDir(), PlantHistoryFile)
}

func (l Layout) ControllerHistoryPath() string {
	return filepath.Join(l.BaseDir(), ControllerHistoryFile)
}

func (l Layout) ContextPath(role string) string {
	if role == "" {
		return filepath.Join(l.BaseDir(), EnvironmentContextFile)
	}

	return filepath.Join(l.BaseDir(), role+"-"+EnvironmentContextFile)
}

// RunContext describes how a run was set up, for whoever reads the logs later.
type RunContext struct {
	RunID     string    `json:"run_id"`
	Role      string    `json:"role"`
	StartedAt time.Time `json:"started_at"`
	Settings  any       `json:"settings"`
}

// NewRunContext stamps a fresh run id and start time.
func NewRunContext(role string, settings any) RunContext {
	return RunContext{
		RunID:     xid.New().String(),
		Role:      role,
		StartedAt: time.Now(),
		Settings:  settings,
	}
}

// WriteRunContext writes rc as indented JSON to path, replacing any previous file.
func WriteRunContext(path string, rc RunContext) error {
	data, err := util.JsonDumps(rc, true)
	if err != nil {
		return fmt.Errorf("encode run context: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create context directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(data+"\n"), 0o644); err != nil {
		return fmt.Errorf("write run context %s: %w", path, err)
	}

	return nil
}

// ReadRunContext loads a context file written by WriteRunContext.
func ReadRunContext(path string) (RunContext, error) {
	var rc RunContext
	if err := util.LoadJsonInto(path, &rc); err != nil {
		return RunContext{}, fmt.Errorf("read run context %s: %w", path, err)
	}

	return rc, nil
}
