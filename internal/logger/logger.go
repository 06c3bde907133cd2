// Package logger holds the process wide zerolog logger used by the
// command line tool and as the default for stores built without one.
package logger

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var ErrUnknownLevel = errors.New("unknown log level")

var log zerolog.Logger

func init() {
	SetConsoleWriter(os.Stderr)
}

// Configure sets the process wide zerolog state: info level and caller
// paths relative to the module root. Only commands call it.
func Configure() {
	setCallerFormatter()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func Log() *zerolog.Logger {
	return &log
}

func SetLogger(l zerolog.Logger) {
	log = l
}

// Component returns a child of the global logger tagged with a component
// name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

func SetConsoleWriter(out io.Writer) {
	log = zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = out
		w.FormatLevel = formatLevel
		w.TimeFormat = "15:04:05.000"
	})).With().Timestamp().Logger()
}

func SetJSONWriter(out io.Writer) {
	log = zerolog.New(out).With().Timestamp().Logger()
}

// SetLevel sets the global level from its name: trace, debug, info, warn,
// error or disabled.
func SetLevel(name string) error {
	if name == "" {
		return nil
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return errors.Wrapf(ErrUnknownLevel, "%q", name)
	}

	zerolog.SetGlobalLevel(lvl)
	return nil
}

func setCallerFormatter() {
	_, file, _, _ := runtime.Caller(0)
	prefix := path.Dir(path.Dir(path.Dir(file)))
	if len(prefix) > 0 && prefix[len(prefix)-1] != os.PathSeparator {
		prefix += "/"
	}

	zerolog.CallerMarshalFunc = func(file string, line int) string {
		if i := strings.Index(file, prefix); i > -1 {
			file = file[i+len(prefix):]
		}
		return fmt.Sprintf("%s:%d", file, line)
	}
}

func formatLevel(i interface{}) string {
	l, ok := i.(string)
	if !ok {
		return "???"
	}

	switch l {
	case "trace":
		return "TRC"
	case "debug":
		return "DBG"
	case "info":
		return "INF"
	case "warn":
		return "WRN"
	case "error":
		return "ERR"
	case "fatal":
		return "FTL"
	case "panic":
		return "PNC"
	}

	return strings.ToUpper(l)
}
