// Package doctor checks that a textern host installation can serve the extension.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/textern/internal/config"
	"github.com/mattjoyce/textern/internal/editor"
	"github.com/mattjoyce/textern/internal/scratch"
	"github.com/mattjoyce/textern/internal/watch"
)

// longKillTimeout is the grace period above which the browser is likely to give up
// on the host before editors are killed.
const longKillTimeout = 30 * time.Second

// Result holds the outcome of a validation run.
type Result struct {
	Valid       bool    `json:"valid"`
	ConfigFile  string  `json:"config_file,omitempty"`
	Fingerprint string  `json:"fingerprint,omitempty"`
	Errors      []Issue `json:"errors,omitempty"`
	Warnings    []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates the host configuration and, optionally, an editor command as the
// extension would send it in prefs.editor.
type Doctor struct {
	cfg    *config.Config
	editor string
}

// New creates a Doctor. editorCommand may be empty to skip the editor checks.
func New(cfg *config.Config, editorCommand string) *Doctor {
	return &Doctor{cfg: cfg, editor: editorCommand}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true, ConfigFile: d.cfg.SourceFile}

	d.fingerprint(r)
	d.validateLogConfig(r)
	d.validateScratchParent(r)
	d.validateKillTimeout(r)
	d.validateWatcher(r)
	d.validateEditor(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) fingerprint(r *Result) {
	sum, err := d.cfg.Fingerprint()
	if err != nil {
		d.addError(r, "config", "", fmt.Sprintf("cannot fingerprint config file: %v", err))
		return
	}
	r.Fingerprint = sum
}

// validateLogConfig checks log settings and that the log file, if any, can be opened.
func (d *Doctor) validateLogConfig(r *Result) {
	switch strings.ToLower(d.cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		d.addError(r, "log", "log.level",
			fmt.Sprintf("log level must be one of debug, info, warn, error (got %q)", d.cfg.Log.Level))
	}
	switch strings.ToLower(d.cfg.Log.Format) {
	case "json", "text":
	default:
		d.addError(r, "log", "log.format",
			fmt.Sprintf("log format must be json or text (got %q)", d.cfg.Log.Format))
	}

	if d.cfg.Log.File == "" {
		return
	}
	f, err := os.OpenFile(d.cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		d.addError(r, "log", "log.file", fmt.Sprintf("cannot open log file: %v", err))
		return
	}
	f.Close()
}

// validateScratchParent checks that a scratch directory can be created where the
// host would create it.
func (d *Doctor) validateScratchParent(r *Result) {
	parent := d.cfg.ScratchParent
	if parent == "" {
		parent = scratch.DefaultParent()
	}
	if parent == "" {
		parent = os.TempDir()
		d.addWarning(r, "scratch", "scratch_parent",
			fmt.Sprintf("XDG_RUNTIME_DIR is not usable; scratch files go to %s", parent))
	}

	dir, err := os.MkdirTemp(parent, "textern-doctor-")
	if err != nil {
		d.addError(r, "scratch", "scratch_parent", fmt.Sprintf("cannot create scratch directory in %s: %v", parent, err))
		return
	}
	os.RemoveAll(dir)
}

func (d *Doctor) validateKillTimeout(r *Result) {
	switch {
	case d.cfg.DefaultKillTimeout < 0:
		d.addError(r, "editor", "default_kill_timeout", "default_kill_timeout must not be negative")
	case d.cfg.DefaultKillTimeout > longKillTimeout:
		d.addWarning(r, "editor", "default_kill_timeout",
			fmt.Sprintf("default_kill_timeout %s is long; the browser may stop the host first", d.cfg.DefaultKillTimeout))
	}
}

// validateWatcher checks that change notifications work on this platform.
func (d *Doctor) validateWatcher(r *Result) {
	dir, err := os.MkdirTemp("", "textern-doctor-watch-")
	if err != nil {
		d.addWarning(r, "watch", "", fmt.Sprintf("cannot create a temporary directory: %v", err))
		return
	}
	defer os.RemoveAll(dir)

	w, err := watch.New(dir)
	if errors.Is(err, watch.ErrUnsupported) {
		d.addError(r, "watch", "", "file change notifications are not supported on this platform")
		return
	}
	if err != nil {
		d.addError(r, "watch", "", fmt.Sprintf("cannot watch a directory: %v", err))
		return
	}
	w.Close()
}

// validateEditor parses the editor command and resolves its executable.
func (d *Doctor) validateEditor(r *Result) {
	if d.editor == "" {
		return
	}
	tokens, err := editor.ParseCommand(d.editor)
	if err != nil {
		d.addError(r, "editor", "prefs.editor", err.Error())
		return
	}

	if path, err := exec.LookPath(tokens[0]); err != nil {
		d.addError(r, "editor", "prefs.editor", fmt.Sprintf("cannot find editor %q: %v", tokens[0], err))
	} else if !filepath.IsAbs(tokens[0]) {
		d.addWarning(r, "editor", "prefs.editor",
			fmt.Sprintf("%q resolves to %s through PATH; the browser may run the host with a different PATH", tokens[0], path))
	}

	hasPath := false
	for _, tok := range tokens {
		if strings.Contains(tok, "%s") {
			hasPath = true
			break
		}
	}
	if !hasPath {
		d.addWarning(r, "editor", "prefs.editor", "no %s placeholder; the file path is appended as the last argument")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.ConfigFile != "" {
		fmt.Fprintf(&b, "Config: %s (blake3 %s)\n", r.ConfigFile, r.Fingerprint)
	} else {
		b.WriteString("Config: built-in defaults\n")
	}

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
