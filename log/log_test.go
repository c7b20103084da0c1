//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2025 Tencent.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package log_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"trpc.group/trpc-go/trpc-memo-go/log"
)

// recordingLogger records every call made to it, in order, so tests
// can assert on delegation without depending on zap's own output format.
type recordingLogger struct {
	calls []string
}

func (r *recordingLogger) record(name string) { r.calls = append(r.calls, name) }

func (r *recordingLogger) Debug(args ...any)                 { r.record("debug") }
func (r *recordingLogger) Debugf(format string, args ...any) { r.record("debugf:" + format) }
func (r *recordingLogger) Info(args ...any)                  { r.record("info") }
func (r *recordingLogger) Infof(format string, args ...any)  { r.record("infof") }
func (r *recordingLogger) Warn(args ...any)                  { r.record("warn") }
func (r *recordingLogger) Warnf(format string, args ...any)  { r.record("warnf") }
func (r *recordingLogger) Error(args ...any)                 { r.record("error") }
func (r *recordingLogger) Errorf(format string, args ...any) { r.record("errorf") }
func (r *recordingLogger) Fatal(args ...any)                 { r.record("fatal") }
func (r *recordingLogger) Fatalf(format string, args ...any) { r.record("fatalf") }

// withStub installs rec as log.Default for the duration of the test.
func withStub(t *testing.T, rec *recordingLogger) {
	t.Helper()
	old := log.Default
	log.Default = rec
	t.Cleanup(func() { log.Default = old })
}

func TestPackageFuncsDelegateToDefault(t *testing.T) {
	rec := &recordingLogger{}
	withStub(t, rec)

	log.Debug("x")
	log.Debugf("x")
	log.Info("x")
	log.Infof("x")
	log.Warn("x")
	log.Warnf("x")
	log.Error("x")
	log.Errorf("x")
	log.Fatal("x")
	log.Fatalf("x")

	assert.Len(t, rec.calls, 10)
}

func TestTracefPrefixesAndLogsAtDebug(t *testing.T) {
	rec := &recordingLogger{}
	withStub(t, rec)

	log.Tracef("item %s ready", "foo")

	require := assert.New(t)
	require.Len(rec.calls, 1)
	require.True(strings.HasPrefix(rec.calls[0], "debugf:[TRACE] item %s ready"))
}
