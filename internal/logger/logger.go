package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat/go-file-rotatelogs"
	"github.com/rifflock/lfshook"
	log "github.com/sirupsen/logrus"
)

type fileFormatter struct{}

// Init configures the global logrus logger: text to stdout plus one rotating
// file per level under dir. An empty dir disables file output.
func Init(dir, level string, retentionDays int) error {
	formatter := &log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	}
	log.SetFormatter(formatter)
	log.SetOutput(os.Stdout)
	log.SetLevel(ParseLevel(level))

	if dir == "" {
		return nil
	}
	if retentionDays <= 0 {
		retentionDays = 7
	}

	writers := lfshook.WriterMap{}
	for _, lvl := range []log.Level{log.InfoLevel, log.WarnLevel, log.ErrorLevel, log.FatalLevel} {
		w, err := writer(dir, lvl.String(), retentionDays)
		if err != nil {
			return err
		}
		writers[lvl] = w
	}
	log.AddHook(lfshook.NewHook(writers, &fileFormatter{}))
	return nil
}

// ParseLevel maps a config string to a logrus level, defaulting to info.
func ParseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

func (f *fileFormatter) Format(entry *log.Entry) ([]byte, error) {
	var fields strings.Builder
	for k, v := range entry.Data {
		fmt.Fprintf(&fields, " %s=%v", k, v)
	}
	msg := fmt.Sprintf("[%s] [%s] %s%s\n",
		entry.Time.Format("2006-01-02 15:04:05"),
		strings.ToUpper(entry.Level.String()),
		entry.Message,
		fields.String(),
	)
	return []byte(msg), nil
}

func writer(dir, level string, retentionDays int) (*rotatelogs.RotateLogs, error) {
	levelDir := filepath.Join(dir, level)
	if err := os.MkdirAll(levelDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", levelDir, err)
	}

	w, err := rotatelogs.New(
		filepath.Join(levelDir, "%Y%m%d.log"),
		rotatelogs.WithLinkName(filepath.Join(dir, level+".log")),
		rotatelogs.WithMaxAge(time.Duration(retentionDays)*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("open %s log: %w", level, err)
	}
	return w, nil
}
