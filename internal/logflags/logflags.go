// Package logflags configures the per-layer loggers used across dbgsync.
package logflags

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Layer names accepted by Setup.
const (
	LayerService = "service"
	LayerBinder  = "binder"
	LayerEditor  = "editor"
	LayerSources = "sources"
	LayerDAP     = "dap"
	LayerConfig  = "config"
)

var (
	mu      sync.RWMutex
	enabled           = map[string]bool{}
	level             = logrus.InfoLevel
	out     io.Writer = os.Stderr
)

// ErrUnknownLayer is returned by Setup for an unrecognized layer name.
var ErrUnknownLayer = errors.New("unknown log layer")

// Setup enables logging for the comma separated layers. When logging
// is false every layer is silenced. An empty list enables the service layer.
func Setup(logging bool, layers string, lvl string, w io.Writer) error {
	mu.Lock()
	defer mu.Unlock()

	enabled = map[string]bool{}
	if w != nil {
		out = w
	}
	level = logrus.InfoLevel
	if lvl != "" {
		parsed, err := logrus.ParseLevel(lvl)
		if err != nil {
			return err
		}
		level = parsed
	}

	if !logging {
		return nil
	}
	if layers == "" {
		layers = LayerService
	}

	for _, name := range strings.Split(layers, ",") {
		name = strings.TrimSpace(name)
		switch name {
		case LayerService, LayerBinder, LayerEditor, LayerSources, LayerDAP, LayerConfig:
			enabled[name] = true
		case "":
		default:
			return ErrUnknownLayer
		}
	}
	return nil
}

// Enabled reports whether a layer logs.
func Enabled(layer string) bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled[layer]
}

func makeLogger(layer string, fields logrus.Fields) *logrus.Entry {
	mu.RLock()
	on := enabled[layer]
	lvl := level
	w := out
	mu.RUnlock()

	logger := logrus.New()
	logger.Out = w
	logger.Formatter = &logrus.TextFormatter{DisableTimestamp: false, FullTimestamp: true}
	logger.Level = lvl
	if !on {
		logger.Level = logrus.PanicLevel
	}

	all := logrus.Fields{"layer": layer}
	for k, v := range fields {
		all[k] = v
	}
	return logger.WithFields(all)
}

// ServiceLogger returns the logger for the debug service.
func ServiceLogger() *logrus.Entry {
	return makeLogger(LayerService, nil)
}

// BinderLogger returns the logger for a session binder of the given kind.
func BinderLogger(kind string) *logrus.Entry {
	return makeLogger(LayerBinder, logrus.Fields{"kind": kind})
}

// EditorLogger returns the logger for editor handlers.
func EditorLogger() *logrus.Entry {
	return makeLogger(LayerEditor, nil)
}

// SourcesLogger returns the logger for the source resolver.
func SourcesLogger() *logrus.Entry {
	return makeLogger(LayerSources, nil)
}

// DAPLogger returns the logger for protocol traffic.
func DAPLogger() *logrus.Entry {
	return makeLogger(LayerDAP, nil)
}

// ConfigLogger returns the logger for settings loading and reload.
func ConfigLogger() *logrus.Entry {
	return makeLogger(LayerConfig, nil)
}
