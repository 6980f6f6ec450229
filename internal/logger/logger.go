// Package logger implements the structured logger used throughout kiln:
// a per-instance, leveled, template-rendered logger with no third-party
// logging dependency. Every root `kiln` entry point and every dev
// orchestrator uses the `*Logger` threaded in explicitly instead of reached through
// a global debug singleton.
package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strconv"
	"sync"
	"text/template"
	"time"
)

// Level is the severity of a log line.
type Level uint8

// The recognized levels, low to high.
const (
	Debug Level = iota
	Info
	Warn
	Error
	Fatal
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "UNKNOWN"
}

// DefaultFormat is the default log line template.
const DefaultFormat = `{"app":"${app_name}","time":"${time_rfc3339}",` +
	`"level":"${level}","file":"${short_file}","line":"${line}"}`

// Logger renders leveled log lines through a text/template compiled from
// Format. It owns no process-wide state.
type Logger struct {
	AppName string
	Format  string
	Enabled bool
	Debug   bool // verbose hook traces, gated by Options.debug
	Output  io.Writer

	mu         sync.Mutex
	tmpl       *template.Template
	bufferPool *sync.Pool
}

// New returns a Logger writing to os.Stdout with DefaultFormat.
func New(appName string) *Logger {
	return &Logger{
		AppName: appName,
		Format:  renderedTemplate(DefaultFormat),
		Enabled: true,
		Output:  os.Stdout,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 256))
			},
		},
	}
}

// renderedTemplate converts the "${name}" placeholder syntax into Go
// text/template "{{.name}}" syntax so users can write the format string
// in the shorter, more familiar form.
func renderedTemplate(format string) string {
	replacer := func(name string) string {
		return "{{." + name + "}}"
	}
	out := bytes.Buffer{}
	for i := 0; i < len(format); i++ {
		if format[i] == '$' && i+1 < len(format) && format[i+1] == '{' {
			j := i + 2
			for j < len(format) && format[j] != '}' {
				j++
			}
			out.WriteString(replacer(format[i+2 : j]))
			i = j
			continue
		}
		out.WriteByte(format[i])
	}
	return out.String()
}

func (l *Logger) compile() *template.Template {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tmpl == nil {
		format := l.Format
		if format == "" {
			format = renderedTemplate(DefaultFormat)
		}
		l.tmpl = template.Must(template.New("logger").Parse(format))
	}
	return l.tmpl
}

func (l *Logger) log(lvl Level, message string, fields map[string]interface{}) {
	if l == nil || !l.Enabled {
		return
	}

	_, file, line, _ := runtime.Caller(2)

	data := map[string]interface{}{
		"app_name":      l.AppName,
		"time_rfc3339":  time.Now().Format(time.RFC3339),
		"level":         lvl.String(),
		"short_file":    path.Base(file),
		"long_file":     file,
		"line":          strconv.Itoa(line),
	}

	tmpl := l.compile()

	buf := l.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer l.bufferPool.Put(buf)

	if err := tmpl.Execute(buf, data); err != nil {
		fmt.Fprintf(l.Output, "%s %s\n", lvl, message)
		return
	}

	s := buf.String()
	out := bytes.Buffer{}
	if len(s) > 0 && s[len(s)-1] == '}' {
		out.WriteString(s[:len(s)-1])
		out.WriteByte(',')
		b, _ := json.Marshal(message)
		out.WriteString(`"message":`)
		out.Write(b)
		if len(fields) > 0 {
			fb, _ := json.Marshal(fields)
			out.WriteByte(',')
			out.WriteString(`"fields":`)
			out.Write(fb)
		}
		out.WriteByte('}')
	} else {
		out.WriteString(s)
		out.WriteByte(' ')
		out.WriteString(message)
		if len(fields) > 0 {
			fb, _ := json.Marshal(fields)
			out.WriteByte(' ')
			out.Write(fb)
		}
	}
	out.WriteByte('\n')

	l.mu.Lock()
	l.Output.Write(out.Bytes())
	l.mu.Unlock()

	if lvl == Fatal {
		os.Exit(1)
	}
}

// Debugf logs a DEBUG line. Verbose/debug traces are only emitted when
// l.Debug is set, the same gate Options.debug controls for hook traces.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l == nil || !l.Debug {
		return
	}
	l.log(Debug, fmt.Sprintf(format, args...), nil)
}

// Infof logs an INFO line.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(Info, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a WARN line.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(Warn, fmt.Sprintf(format, args...), nil)
}

// Errorf logs an ERROR line.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(Error, fmt.Sprintf(format, args...), nil)
}

// Fatalf logs a FATAL line then exits the process with status 1.
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(Fatal, fmt.Sprintf(format, args...), nil)
}

// WithFields logs message at lvl with structured fields attached, used by
// components that want to emit both a human message and machine-parseable
// context (e.g. the orchestrator logging a build failure with its file
// path and cause).
func (l *Logger) WithFields(lvl Level, message string, fields map[string]interface{}) {
	l.log(lvl, message, fields)
}
