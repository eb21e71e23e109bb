package infra

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"rxverify-service/config"
	"rxverify-service/internal/domain"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLogLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("verbose"))
}

func TestTraceHandler_AddsTraceFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, &config.Config{
		LogLevel:           "INFO",
		OtelEnabled:        true,
		GoogleCloudProject: "rx-project",
	})

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.InfoContext(ctx, "hello")
	span.End()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	traceID := span.SpanContext().TraceID().String()
	assert.Equal(t, traceID, entry["trace"])
	assert.Equal(t, "projects/rx-project/traces/"+traceID, entry["logging.googleapis.com/trace"])
	assert.Equal(t, true, entry["traceSampled"])
}

func TestTraceHandler_NoSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, &config.Config{LogLevel: "INFO", OtelEnabled: true})
	logger.Info("plain")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "trace")
}

func TestNewDB_SQLite(t *testing.T) {
	db, err := NewDB(&config.Config{DatabaseDriver: config.DriverSQLite, DatabaseURL: ":memory:"})
	require.NoError(t, err)

	var one int
	require.NoError(t, db.Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
}

func TestNewDB_UnsupportedDriver(t *testing.T) {
	_, err := NewDB(&config.Config{DatabaseDriver: "oracle", DatabaseURL: "x"})
	assert.Error(t, err)
}

func TestParseEd25519PEM(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	got, err := parseEd25519PEM(pemBytes)
	require.NoError(t, err)
	assert.Equal(t, []byte(pub), got)

	_, err = parseEd25519PEM([]byte("not pem"))
	assert.Error(t, err)
}

func TestMemoryLotLocker_MutualExclusion(t *testing.T) {
	locker := NewMemoryLotLocker(time.Second)
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "lot-1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, locker.entries, "entries are released")
}

func TestMemoryLotLocker_TimeoutIsConflict(t *testing.T) {
	locker := NewMemoryLotLocker(20 * time.Millisecond)
	unlock, err := locker.Lock(context.Background(), "lot-1")
	require.NoError(t, err)
	defer unlock()

	_, err = locker.Lock(context.Background(), "lot-1")
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	// 別ロットは独立
	other, err := locker.Lock(context.Background(), "lot-2")
	require.NoError(t, err)
	other()
}

func TestMemoryLotLocker_UnlockIsIdempotent(t *testing.T) {
	locker := NewMemoryLotLocker(time.Second)
	unlock, err := locker.Lock(context.Background(), "lot-1")
	require.NoError(t, err)
	unlock()
	unlock()

	again, err := locker.Lock(context.Background(), "lot-1")
	require.NoError(t, err)
	again()
}

// REDIS_ADDR が設定されている場合のみ実行する。
func TestRedisLotLocker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	locker, err := NewRedisLotLocker(addr, os.Getenv("REDIS_PASSWORD"), 0, 50*time.Millisecond, time.Second)
	require.NoError(t, err)
	defer locker.Close()
	require.NoError(t, locker.Ping(ctx))

	lotID := "test-" + time.Now().Format("150405.000000")
	unlock, err := locker.Lock(ctx, lotID)
	require.NoError(t, err)

	_, err = locker.Lock(ctx, lotID)
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	unlock()
	again, err := locker.Lock(ctx, lotID)
	require.NoError(t, err)
	again()
}

func TestNewRedisLotLocker_RequiresAddr(t *testing.T) {
	_, err := NewRedisLotLocker("", "", 0, time.Second, time.Minute)
	assert.Error(t, err)
}
