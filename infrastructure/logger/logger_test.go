package logger_test

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pglemos/ml-bling-sync/infrastructure/logger"
)

func TestNew_AppliesDefaults(t *testing.T) {
	t.Parallel()

	l, err := logger.New(logger.Config{OutputPaths: []string{"stderr"}, ServiceName: "sync"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Info("ready", logger.String("component", "test"))
}

func TestNewFromZap_CarriesFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	l := logger.NewFromZap(zap.New(core)).With(logger.String("component", "limiter"))

	l.Warn("redis unavailable", logger.Degraded(), logger.Error(errors.New("dial tcp")))

	entries := logs.FilterMessage("redis unavailable").All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["component"] != "limiter" {
		t.Errorf("component = %v, want limiter", ctx["component"])
	}
	if ctx["degraded"] != true {
		t.Errorf("degraded = %v, want true", ctx["degraded"])
	}
}
