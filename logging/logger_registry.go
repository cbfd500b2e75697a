package logging

import (
	"fmt"
	"regexp"
	"sync"
)

// Registry tracks named loggers so that level patterns can be applied to them, including to
// loggers created after the patterns were set.
type Registry struct {
	mu        sync.RWMutex
	loggers   map[string]Logger
	logConfig []LoggerPatternConfig
}

var globalLoggerRegistry = newRegistry()

func newRegistry() *Registry {
	return &Registry{
		loggers: make(map[string]Logger),
	}
}

func (lr *Registry) loggerNamed(name string) (logger Logger, ok bool) {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	logger, ok = lr.loggers[name]
	return
}

// levelFor returns the level of the last pattern matching name. Callers hold the lock.
func (lr *Registry) levelFor(name string) (Level, bool, error) {
	var (
		found bool
		level Level
	)
	for _, lpc := range lr.logConfig {
		r, err := regexp.Compile(buildRegexFromPattern(lpc.Pattern))
		if err != nil {
			return INFO, false, err
		}
		if !r.MatchString(name) {
			continue
		}
		level, err = LevelFromString(lpc.Level)
		if err != nil {
			return INFO, false, err
		}
		found = true
	}
	return level, found, nil
}

// UpdateConfig replaces the level patterns and re-levels every registered logger. Loggers that no
// pattern matches are reset to INFO. Invalid patterns are reported to errorLogger and skipped.
func (lr *Registry) UpdateConfig(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	valid := make([]LoggerPatternConfig, 0, len(logConfig))
	for _, lpc := range logConfig {
		if !ValidatePattern(lpc.Pattern) {
			errorLogger.Warnw("failed to validate a pattern", "pattern", lpc.Pattern)
			continue
		}
		if _, err := LevelFromString(lpc.Level); err != nil {
			return fmt.Errorf("pattern %q: %w", lpc.Pattern, err)
		}
		valid = append(valid, lpc)
	}

	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.logConfig = valid
	for name, logger := range lr.loggers {
		level, found, err := lr.levelFor(name)
		if err != nil {
			return err
		}
		if !found {
			level = INFO
		}
		logger.SetLevel(level)
	}
	return nil
}

// register records the logger under name, replacing any earlier logger of that name, and levels
// it according to the current patterns.
func (lr *Registry) register(name string, logger Logger) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.loggers[name] = logger
	if level, found, err := lr.levelFor(name); err == nil && found {
		logger.SetLevel(level)
	}
}

// UpdateLoggerPatterns applies level patterns to all loggers created through Sublogger.
func UpdateLoggerPatterns(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	return globalLoggerRegistry.UpdateConfig(logConfig, errorLogger)
}
