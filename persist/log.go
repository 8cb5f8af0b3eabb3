package persist

import (
	"log"
	"os"
)

// Logger wraps a standard library *log.Logger writing to a single file,
// bracketing the file's lifetime with STARTUP and SHUTDOWN markers so a
// truncated log is easy to spot.
type Logger struct {
	*log.Logger
	logFile *os.File
}

// NewLogger creates a new Logger that appends to (or creates) the file at
// filename.
func NewLogger(filename string) (*Logger, error) {
	logFile, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0660)
	if err != nil {
		return nil, err
	}
	logger := log.New(logFile, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	logger.Println("STARTUP: logger initialized")
	return &Logger{
		Logger:  logger,
		logFile: logFile,
	}, nil
}

// Close prints a SHUTDOWN marker and closes the underlying file.
func (l *Logger) Close() error {
	l.Println("SHUTDOWN: logger closing")
	return l.logFile.Close()
}
