package kilorank

import (
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

func logColors(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	if os.Getenv("NO_COLOR") != "" {
		return false
	}

	if !isatty.IsTerminal(f.Fd()) {
		return false
	}

	return os.Getenv("TERM") != "dumb"
}

func logLevel(debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func GetSlogHandler(debug bool, out io.Writer) slog.Handler {
	return tint.NewHandler(out, &tint.Options{
		AddSource: true,
		Level:     logLevel(debug),
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if _, ok := attr.Value.Any().(error); attr.Key == "err" || ok {
				return tint.Attr(9, attr)
			}
			return attr
		},
		TimeFormat: time.RFC3339,
		NoColor:    !logColors(out),
	})
}

// NewLogger writes human readable logs to out and, if logDir is set,
// JSON logs to a rotated file in logDir. Records are also sent to every extra handler.
func NewLogger(debug bool, out io.Writer, logDir string, extra ...slog.Handler) *slog.Logger {
	handlers := append([]slog.Handler{GetSlogHandler(debug, out)}, extra...)
	if logDir == "" {
		return slog.New(slogmulti.Fanout(handlers...))
	}
	fileHandler := slog.NewJSONHandler(&lumberjack.Logger{
		Filename:   path.Join(logDir, "kilorank.log"),
		MaxSize:    100,
		MaxBackups: 5,
		Compress:   true,
	}, &slog.HandlerOptions{Level: logLevel(debug)})

	return slog.New(slogmulti.Fanout(append(handlers, fileHandler)...))
}
