package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/2beens/repcount/internal/config"
	"github.com/2beens/repcount/pkg"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationPolicy decides when the log file rolls over and how many old
// files survive.
type RotationPolicy struct {
	MaxSizeMB int
	// 0 keeps all rotated files
	MaxBackups int
	// 0 never deletes by age
	MaxAgeDays int
	Compress   bool
}

func (p RotationPolicy) validate() error {
	var errs []error
	if p.MaxSizeMB < 0 {
		errs = append(errs, fmt.Errorf("max size %d MB", p.MaxSizeMB))
	}
	if p.MaxBackups < 0 {
		errs = append(errs, fmt.Errorf("max backups %d", p.MaxBackups))
	}
	if p.MaxAgeDays < 0 {
		errs = append(errs, fmt.Errorf("max age %d days", p.MaxAgeDays))
	}
	return errors.Join(errs...)
}

type LoggerSetupParams struct {
	// empty means stdout only
	LogFileName      string
	LogToStdout      bool
	LogLevel         string
	LogFormatJSON    bool
	Environment      string
	SentryEnabled    bool
	SentryDSN        string
	SentryServerName string
	Rotation         RotationPolicy
}

// ParamsFromConfig maps the logging keys of a service config section.
func ParamsFromConfig(cfg *config.Config, sentryDSN, serverName string) LoggerSetupParams {
	return LoggerSetupParams{
		LogFileName:      cfg.LogsPath,
		LogToStdout:      cfg.LogToStdout,
		LogLevel:         cfg.LogLevel,
		LogFormatJSON:    cfg.LogFormatJSON,
		Environment:      cfg.Environment,
		SentryEnabled:    cfg.SentryEnabled,
		SentryDSN:        sentryDSN,
		SentryServerName: serverName,
		Rotation: RotationPolicy{
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAgeDays: cfg.LogMaxAgeDays,
			Compress:   cfg.LogCompress,
		},
	}
}

// Output is the sink Setup installed. Rotate and Close are no-ops when
// logging goes to stdout only.
type Output struct {
	file *lumberjack.Logger
}

// Rotate closes the current log file and starts a new one, so external
// tools can move the old file away on SIGHUP.
func (o *Output) Rotate() error {
	if o == nil || o.file == nil {
		return nil
	}
	return o.file.Rotate()
}

func (o *Output) Close() error {
	if o == nil || o.file == nil {
		return nil
	}
	return o.file.Close()
}

// FileName is the resolved log file path, empty for stdout only.
func (o *Output) FileName() string {
	if o == nil || o.file == nil {
		return ""
	}
	return o.file.Filename
}

// Setup configures the global logrus logger.
func Setup(params LoggerSetupParams) (*Output, error) {
	if err := params.Rotation.validate(); err != nil {
		return nil, fmt.Errorf("log rotation: %w", err)
	}

	if params.LogFormatJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	logrus.SetLevel(GetLevel(params.LogLevel))

	if params.SentryEnabled {
		err := sentry.Init(sentry.ClientOptions{
			Environment:      params.Environment,
			Dsn:              params.SentryDSN,
			TracesSampleRate: 1.0,
			ServerName:       params.SentryServerName,
		})
		if err != nil {
			// logs still work without sentry
			logrus.Errorf("sentry.Init: %s", err)
		} else {
			logrus.AddHook(NewSentryHook([]logrus.Level{
				logrus.PanicLevel,
				logrus.FatalLevel,
				logrus.ErrorLevel,
			}))
			logrus.Infoln("sentry hook installed")
		}
	}

	if params.LogFileName == "" {
		logrus.SetOutput(os.Stdout)
		logrus.Println("writing logs only to STDOUT")
		return &Output{}, nil
	}

	fileName := params.LogFileName
	if !strings.HasSuffix(fileName, ".log") {
		fileName += ".log"
	}
	if err := os.MkdirAll(filepath.Dir(fileName), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	out := &Output{
		file: &lumberjack.Logger{
			Filename:   fileName,
			MaxSize:    params.Rotation.MaxSizeMB,
			MaxBackups: params.Rotation.MaxBackups,
			MaxAge:     params.Rotation.MaxAgeDays,
			Compress:   params.Rotation.Compress,
			LocalTime:  false, // rotated file names in UTC
		},
	}

	if params.LogToStdout {
		logrus.SetOutput(pkg.NewCombinedWriter(os.Stdout, out.file))
		logrus.Printf("writing logs to [%s] and STDOUT", fileName)
	} else {
		logrus.SetOutput(out.file)
	}

	return out, nil
}

// GetLevel falls back to info for unknown names.
func GetLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}
