package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// OutputManager owns one timestamped run directory holding the run log and
// every report a training or evaluation run produces.
type OutputManager struct {
	baseDir   string
	timestamp string
	logFile   *os.File
	log       zerolog.Logger
}

// NewOutputManager creates <baseDir>/<timestamp>/logs/run.log and a logger
// that writes to the console and to that file.
func NewOutputManager(baseDir string, level zerolog.Level) (*OutputManager, error) {
	return newOutputManager(baseDir, level, os.Stdout)
}

func newOutputManager(baseDir string, level zerolog.Level, console io.Writer) (*OutputManager, error) {
	timestamp := time.Now().Format("20060102_150405")

	outputPath := filepath.Join(baseDir, timestamp)
	logsDir := filepath.Join(outputPath, "logs")
	if err := os.MkdirAll(logsDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	logFile, err := os.Create(filepath.Join(logsDir, "run.log"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	consoleWriter := zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = console
	})
	multiWriter := zerolog.MultiLevelWriter(consoleWriter, logFile)

	combinedLogger := zerolog.New(multiWriter).
		Level(level).
		With().
		Timestamp().
		Caller().
		Str("run", timestamp).
		Logger()

	return &OutputManager{
		baseDir:   outputPath,
		timestamp: timestamp,
		logFile:   logFile,
		log:       combinedLogger,
	}, nil
}

// WriteJSON writes data as indented JSON to name inside the run directory.
func (om *OutputManager) WriteJSON(name string, data interface{}) error {
	outputPath := om.Path(name)

	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode data to JSON: %w", err)
	}

	om.log.Debug().
		Str("file", outputPath).
		Msg("Wrote data to JSON file")

	return nil
}

// Logger returns the console+file logger of this run.
func (om *OutputManager) Logger() zerolog.Logger {
	return om.log
}

// Path returns the full path of filename inside the run directory.
func (om *OutputManager) Path(filename string) string {
	return filepath.Join(om.baseDir, filename)
}

func (om *OutputManager) Timestamp() string {
	return om.timestamp
}

func (om *OutputManager) Dir() string {
	return om.baseDir
}

// Close flushes and closes the run log.
func (om *OutputManager) Close() error {
	return om.logFile.Close()
}
