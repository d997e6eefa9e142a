package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	enabled     = os.Getenv("BBL_DEBUG") != ""
	verboseMode = false
	quietMode   = false
	logMutex    sync.Mutex
)

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

// Logf writes a diagnostic line to stderr when debugging is enabled.
func Logf(format string, args ...interface{}) {
	if enabled || verboseMode {
		if !strings.HasSuffix(format, "\n") {
			format += "\n"
		}
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// PrintNormal prints output unless quiet mode is enabled
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		fmt.Printf(format, args...)
	}
}

// LogEvent appends an executed command to .bblifecycle/events.log.
// Format: TIMESTAMP|EVENT_CODE|SUBJECT|ACTOR|DETAILS
func LogEvent(eventCode, subject, actor, details string) {
	root, err := findProjectRoot()
	if err != nil {
		return
	}
	logPath := filepath.Join(root, ".bblifecycle", "events.log")

	if subject == "" {
		subject = "none"
	}
	if actor == "" {
		actor = os.Getenv("USER")
		if actor == "" {
			actor = "unknown"
		}
	}
	details = strings.ReplaceAll(details, "\n", " ")

	entry := fmt.Sprintf("%s|%s|%s|%s|%s\n",
		time.Now().UTC().Format(time.RFC3339), eventCode, subject, actor, details)

	logMutex.Lock()
	defer logMutex.Unlock()

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer file.Close()

	_, _ = file.WriteString(entry)
}

// findProjectRoot walks up from the working directory to the first
// directory holding a .bblifecycle directory.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if info, err := os.Stat(filepath.Join(dir, ".bblifecycle")); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no .bblifecycle directory found")
		}
		dir = parent
	}
}
