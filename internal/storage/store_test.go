package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/settings/internal/circuitbreaker"
)

// exerciseStore checks the behaviour every backend shares.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Read(ctx, "Profile1/GameInstance.json")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Write(ctx, "Profile1/GameInstance.json", []byte(`{"a":1}`)))
	data, err := s.Read(ctx, "Profile1/GameInstance.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	require.NoError(t, s.Write(ctx, "Profile1/GameInstance.json", []byte(`{"a":2}`)))
	data, err = s.Read(ctx, "Profile1/GameInstance.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(data))

	for _, key := range []string{"", "/abs", "a//b", "../escape", "a/./b"} {
		assert.ErrorIs(t, s.Write(ctx, key, []byte("x")), ErrInvalidKey, key)
		_, err := s.Read(ctx, key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestFileStore(t *testing.T) {
	root := filepath.Join(t.TempDir(), "settings")
	s, err := NewFileStore(root, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, s.Ping(context.Background()), "missing root is created lazily")
	exerciseStore(t, s)

	_, err = os.Stat(filepath.Join(root, "Profile1", "GameInstance.json"))
	assert.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "Profile1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestFileStoreRejectsEmptyRoot(t *testing.T) {
	_, err := NewFileStore("", zap.NewNop())
	assert.Error(t, err)
}

func TestFileStorePingNotDirectory(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0o644))
	s, err := NewFileStore(f, zap.NewNop())
	require.NoError(t, err)
	assert.Error(t, s.Ping(context.Background()))
}

func TestFileStoreCancelledContext(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Write(ctx, "k.json", []byte("x")), context.Canceled)
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client, "", zaptest.NewLogger(t))
	defer s.Close()

	require.NoError(t, s.Ping(context.Background()))
	exerciseStore(t, s)

	raw, err := mr.Get(DefaultKeyPrefix + "Profile1/GameInstance.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, raw)
}

func TestNewRedisStoreConnects(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr()+"/0", "test:", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Write(context.Background(), "k.json", []byte("{}")))
	assert.True(t, mr.Exists("test:k.json"))

	_, err = NewRedisStore(context.Background(), "not a url", "", zap.NewNop())
	assert.Error(t, err)
}

func TestSQLStoreWithMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLStore(sqlx.NewDb(db, "postgres"), zaptest.NewLogger(t))
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS settings_documents")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, s.Migrate(ctx))

	// postgres placeholders after Rebind
	mock.ExpectQuery(regexp.QuoteMeta("SELECT body FROM settings_documents WHERE doc_key = $1")).
		WithArgs("Profile1/GameInstance.json").
		WillReturnRows(sqlmock.NewRows([]string{"body"}))
	_, err = s.Read(ctx, "Profile1/GameInstance.json")
	require.ErrorIs(t, err, ErrNotFound)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO settings_documents (doc_key, body, updated_at) VALUES ($1, $2, $3)")).
		WithArgs("Profile1/GameInstance.json", `{"a":1}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.Write(ctx, "Profile1/GameInstance.json", []byte(`{"a":1}`)))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT body FROM settings_documents")).
		WithArgs("Profile1/GameInstance.json").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(`{"a":1}`))
	data, err := s.Read(ctx, "Profile1/GameInstance.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT body FROM settings_documents")).
		WillReturnError(errors.New("connection reset"))
	_, err = s.Read(ctx, "Profile1/GameInstance.json")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreSQLite(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "settings.db")
	s, err := OpenSQLStore(context.Background(), "sqlite3", dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Ping(context.Background()))
	exerciseStore(t, s)
}

type flakyStore struct {
	err   error
	calls int
}

func (f *flakyStore) Read(ctx context.Context, key string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return nil, ErrNotFound
}

func (f *flakyStore) Write(ctx context.Context, key string, data []byte) error {
	f.calls++
	return f.err
}

func TestGuardedStoreOpensOnFailures(t *testing.T) {
	inner := &flakyStore{err: errors.New("backend down")}
	breaker := circuitbreaker.NewCircuitBreaker("test", circuitbreaker.Config{
		FailureThreshold: 2,
		Timeout:          time.Minute,
	}, zap.NewNop())
	g := Guarded(inner, breaker, time.Second)
	ctx := context.Background()

	assert.Error(t, g.Write(ctx, "k.json", nil))
	assert.Error(t, g.Write(ctx, "k.json", nil))
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())

	err := g.Write(ctx, "k.json", nil)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
	assert.Equal(t, 2, inner.calls, "open breaker does not reach the backend")
	assert.ErrorIs(t, g.Ping(ctx), circuitbreaker.ErrCircuitBreakerOpen)
}

func TestGuardedStoreNotFoundIsSuccess(t *testing.T) {
	inner := &flakyStore{}
	breaker := circuitbreaker.NewCircuitBreaker("test", circuitbreaker.Config{FailureThreshold: 1}, zap.NewNop())
	g := Guarded(inner, breaker, 0)

	for i := 0; i < 3; i++ {
		_, err := g.Read(context.Background(), "missing.json")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
	assert.NoError(t, g.Ping(context.Background()))
}

func TestOpenFileBackend(t *testing.T) {
	s, closeFn, err := Open(context.Background(), Config{Backend: "file", Root: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	defer closeFn()
	_, ok := s.(*FileStore)
	assert.True(t, ok)

	_, _, err = Open(context.Background(), Config{Backend: "etcd"}, zap.NewNop())
	assert.Error(t, err)
}

func TestOpenRedisBackendIsGuarded(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s, closeFn, err := Open(context.Background(), Config{Backend: "redis", RedisURL: "redis://" + mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	defer closeFn()
	g, ok := s.(*GuardedStore)
	require.True(t, ok)
	assert.Equal(t, "redis", g.Breaker().Name())
	exerciseStore(t, g)
}
