package logging

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Имена компонентов с готовыми геттерами
const (
	ComponentNetwork = "network"
	ComponentServer  = "server"
	ComponentGame    = "game"
	ComponentAbility = "ability"
	ComponentStorage = "storage"
)

// Registry по одному логгеру на компонент. Уровни отдельных компонентов можно
// переопределить (logging.components в конфигурации), в том числе до создания логгера.
type Registry struct {
	mu        sync.Mutex
	loggers   map[string]*Logger
	overrides map[string]LogLevel
}

func NewRegistry() *Registry {
	return &Registry{
		loggers:   make(map[string]*Logger),
		overrides: make(map[string]LogLevel),
	}
}

var components = NewRegistry()

// Get логгер компонента; при ошибке открытия файла возвращается консольный
func (r *Registry) Get(component string) *Logger {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.loggers[component]; ok {
		return l
	}
	l, err := NewLogger(component)
	if err != nil {
		fallbackLogger().Warn("⚠️ Логгер %s без файла: %v", component, err)
		return fallbackLogger()
	}
	if level, ok := r.overrides[component]; ok {
		r.apply(l, level)
	}
	r.loggers[component] = l
	return l
}

// Override задаёт уровень компонента: консоль получает level,
// файл не выше level, чтобы в нём было не меньше записей, чем в консоли
func (r *Registry) Override(component string, level LogLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[component] = level
	if l, ok := r.loggers[component]; ok {
		r.apply(l, level)
	}
}

func (r *Registry) apply(l *Logger, level LogLevel) {
	file := currentOptions().FileLevel
	if level < file {
		file = level
	}
	l.SetLevels(level, file)
}

// Components отсортированные имена созданных логгеров
func (r *Registry) Components() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.loggers))
	for c := range r.loggers {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Close закрывает файлы всех логгеров. Следующий Get создаст логгер заново.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for c, l := range r.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c, err))
		}
	}
	r.loggers = make(map[string]*Logger)
	return errors.Join(errs...)
}

// SetComponentLevels применяет переопределения вида {"network": "debug"}
func SetComponentLevels(levels map[string]string) error {
	for c, s := range levels {
		level, err := ParseLevel(s)
		if err != nil {
			return fmt.Errorf("уровень компонента %s: %w", c, err)
		}
		components.Override(c, level)
	}
	return nil
}

// CloseComponentLoggers закрывает логгеры всех компонентов
func CloseComponentLoggers() error { return components.Close() }

func GetComponentLogger(component string) *Logger { return components.Get(component) }

func GetNetworkLogger() *Logger { return GetComponentLogger(ComponentNetwork) }
func GetServerLogger() *Logger  { return GetComponentLogger(ComponentServer) }
func GetGameLogger() *Logger    { return GetComponentLogger(ComponentGame) }
func GetAbilityLogger() *Logger { return GetComponentLogger(ComponentAbility) }
func GetStorageLogger() *Logger { return GetComponentLogger(ComponentStorage) }
