package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/university/internal/audit"
	"github.com/yourusername/university/internal/auth"
	"github.com/yourusername/university/internal/config"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHashPasswordCmd(t *testing.T) {
	out, err := execute(t, "", "hash-password", "--cost", "4", "foo")
	require.NoError(t, err)
	hash := strings.TrimSpace(out)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("foo")))

	out, err = execute(t, "bar\n", "hash-password", "--cost", "4")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("bar")))

	_, err = execute(t, "\n", "hash-password")
	assert.Error(t, err)
}

func TestGenCertCmd(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "", "gen-cert", "--dir", dir, "--hosts", "localhost")
	require.NoError(t, err)
	assert.Contains(t, out, "TLS_CERT_FILE="+filepath.Join(dir, "server.crt"))

	for _, name := range []string{"server.crt", "server.key"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}

func TestAuditRecentCmd(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_URL", "redis://"+mr.Addr())

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := audit.NewStore(rdb, time.Hour)
	for _, kind := range []audit.Kind{audit.KindLoginFailed, audit.KindLoginSucceeded} {
		ev := audit.NewEvent(kind, "foo", "192.0.2.1")
		require.NoError(t, store.Save(context.Background(), &ev))
	}

	out, err := execute(t, "", "audit", "recent", "-n", "1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], string(audit.KindLoginSucceeded))
	assert.Contains(t, lines[0], "foo")
}

func TestAuditRecentRequiresRedis(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	_, err := execute(t, "", "audit", "recent")
	assert.Error(t, err)
}

func TestOpenDirectoryUsesSeed(t *testing.T) {
	dir, closeDir, err := openDirectory(context.Background(), &config.Config{})
	require.NoError(t, err)
	defer closeDir()

	_, err = dir.Lookup(context.Background(), "foo")
	assert.NoError(t, err)
}

func TestOpenBackends(t *testing.T) {
	logger := testLogger()

	b, err := openBackends(context.Background(), &config.Config{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &auth.MemoryLimiter{}, b.limiter)
	assert.Nil(t, b.auditor)
	b.close(logger)

	_, err = openBackends(context.Background(), &config.Config{RedisURL: "redis://127.0.0.1:1"}, logger)
	assert.Error(t, err)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunServeStopsOnCancel(t *testing.T) {
	cfg := &config.Config{
		WebAddr:           "127.0.0.1:0",
		TLSAddr:           "127.0.0.1:0",
		GinMode:           "test",
		SessionTTLSeconds: 60,
		CookieName:        "hapi-university",
		CookieSecure:      true,
		TLSHosts:          []string{"127.0.0.1"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var logs bytes.Buffer
	require.NoError(t, runServe(ctx, cfg, &logs))
	assert.Contains(t, logs.String(), "starting university")
}
