package logging

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из строки конфигурации ("debug", "WARN", ...)
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "", "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("неизвестный уровень логирования %q", s)
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case TRACE:
		return zerolog.TraceLevel
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Options настройки, общие для всех компонентных логгеров
type Options struct {
	Dir          string    // Каталог файлов логов; пустой отключает запись в файл
	ConsoleLevel LogLevel  // Минимальный уровень для консоли
	FileLevel    LogLevel  // Минимальный уровень для файла
	MaxSizeMB    int       // Размер файла до ротации
	MaxBackups   int       // Сколько старых файлов хранить
	MaxAgeDays   int       // Сколько дней хранить старые файлы
	Console      io.Writer // Куда писать консольный вывод (по умолчанию stdout)
	NoColor      bool
}

var (
	optionsMu sync.RWMutex
	options   = Options{
		ConsoleLevel: INFO,
		FileLevel:    DEBUG,
		MaxSizeMB:    50,
		MaxBackups:   5,
		MaxAgeDays:   14,
	}
)

// Configure задаёт настройки для логгеров, создаваемых после вызова
func Configure(opts Options) {
	optionsMu.Lock()
	defer optionsMu.Unlock()
	options = opts
}

func currentOptions() Options {
	optionsMu.RLock()
	defer optionsMu.RUnlock()
	return options
}

// Logger логгер одного компонента: консоль + файл с ротацией
type Logger struct {
	component       string
	zl              zerolog.Logger
	consoleLogger   io.Writer
	file            io.Closer
	mu              sync.RWMutex
	minConsoleLevel LogLevel
	minFileLevel    LogLevel
}

// NewLogger создаёт логгер компонента по текущим настройкам
func NewLogger(component string) (*Logger, error) {
	opts := currentOptions()

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	l := &Logger{
		component:       component,
		consoleLogger:   console,
		minConsoleLevel: opts.ConsoleLevel,
		minFileLevel:    opts.FileLevel,
	}

	writers := []io.Writer{
		&levelFilter{
			w:   zerolog.ConsoleWriter{Out: console, TimeFormat: time.DateTime, NoColor: opts.NoColor},
			min: func() LogLevel { return l.consoleLevel() },
		},
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("ошибка создания директории %s: %w", opts.Dir, err)
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, component+".log"),
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		l.file = rotator
		writers = append(writers, &levelFilter{
			w:   rotator,
			min: func() LogLevel { return l.fileLevel() },
		})
	}

	l.zl = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(zerolog.TraceLevel).
		With().
		Timestamp().
		Str("component", component).
		Logger()
	return l, nil
}

// Component имя компонента
func (l *Logger) Component() string { return l.component }

func (l *Logger) consoleLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.minConsoleLevel
}

func (l *Logger) fileLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.minFileLevel
}

// SetLevels меняет пороги консоли и файла
func (l *Logger) SetLevels(consoleLevel, fileLevel LogLevel) {
	l.mu.Lock()
	l.minConsoleLevel = consoleLevel
	l.minFileLevel = fileLevel
	l.mu.Unlock()
}

func (l *Logger) enabled(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if level >= l.minConsoleLevel {
		return true
	}
	return l.file != nil && level >= l.minFileLevel
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if l == nil || !l.enabled(level) {
		return
	}
	l.zl.WithLevel(level.zerolog()).Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) Trace(format string, args ...interface{}) { l.log(TRACE, format, args...) }
func (l *Logger) Debug(format string, args ...interface{}) { l.log(DEBUG, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(INFO, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(WARN, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log(ERROR, format, args...) }

// Close закрывает файл логов компонента
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// levelFilter пропускает в w только записи не ниже порога
type levelFilter struct {
	w   io.Writer
	min func() LogLevel
}

func (f *levelFilter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f *levelFilter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < f.min().zerolog() {
		return len(p), nil
	}
	return f.w.Write(p)
}

// Глобальный логгер по умолчанию
var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// InitDefaultLogger создаёт глобальный логгер для пакетных функций Info/Debug/...
func InitDefaultLogger(component string) error {
	logger, err := NewLogger(component)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	old := defaultLogger
	defaultLogger = logger
	defaultMu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// CloseDefaultLogger закрывает глобальный логгер
func CloseDefaultLogger() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger != nil {
		defaultLogger.Close()
		defaultLogger = nil
	}
}

func getDefault() *Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}
	return fallbackLogger()
}

var (
	fallbackOnce sync.Once
	fallback     *Logger
)

// fallbackLogger консольный логгер без файла для кода, запущенного до InitDefaultLogger
func fallbackLogger() *Logger {
	fallbackOnce.Do(func() {
		fallback = &Logger{
			component:       "default",
			consoleLogger:   os.Stderr,
			minConsoleLevel: INFO,
			minFileLevel:    ERROR,
		}
		fallback.zl = zerolog.New(&levelFilter{
			w:   zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime},
			min: func() LogLevel { return fallback.consoleLevel() },
		}).With().Timestamp().Logger()
	})
	return fallback
}

func Trace(format string, args ...interface{}) { getDefault().Trace(format, args...) }
func Debug(format string, args ...interface{}) { getDefault().Debug(format, args...) }
func Info(format string, args ...interface{})  { getDefault().Info(format, args...) }
func Warn(format string, args ...interface{})  { getDefault().Warn(format, args...) }
func Error(format string, args ...interface{}) { getDefault().Error(format, args...) }

// LogRecord логирует запись протокола с hex дампом
func LogRecord(connID string, direction string, kind interface{}, payload []byte) {
	l := getDefault()
	if !l.enabled(DEBUG) {
		return
	}
	l.Debug("=== %s RECORD %s === type=%v size=%d bytes", direction, connID, kind, len(payload))
	if len(payload) > 0 {
		l.Debug("%s", HexDump(payload))
	}
}

// HexDump создает hex дамп данных
func HexDump(data []byte) string {
	if len(data) == 0 {
		return "No data"
	}

	// Ограничиваем размер дампа до 256 байт
	size := len(data)
	if size > 256 {
		size = 256
	}

	return hex.Dump(data[:size])
}

// LogProtocolError логирует ошибки разбора записей протокола
func LogProtocolError(connID string, err error, data []byte) {
	l := getDefault()
	l.Error("Protocol error from %s: %v", connID, err)
	if len(data) > 0 {
		l.Error("Raw data (%d bytes):\n%s", len(data), HexDump(data))
	}
}
