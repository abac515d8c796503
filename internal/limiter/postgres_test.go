package limiter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

/************ fake pgx ************/
type fakeRow struct{ scan func(dest ...any) error }

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakePool struct {
	qrErr       error
	lockedUntil *time.Time
	failsRet    int

	lastArgs    []any
	lastExecSQL string
	execErr     error
}

func (f *fakePool) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.lastExecSQL = sql
	return pgconn.NewCommandTag("UPDATE 1"), f.execErr
}

func (f *fakePool) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.lastArgs = args
	switch {
	case strings.Contains(sql, "SELECT locked_until"):
		return fakeRow{scan: func(dest ...any) error {
			if f.qrErr != nil {
				return f.qrErr
			}
			*(dest[0].(**time.Time)) = f.lockedUntil
			return nil
		}}
	case strings.Contains(sql, "RETURNING fail_count, locked_until"):
		return fakeRow{scan: func(dest ...any) error {
			if f.qrErr != nil {
				return f.qrErr
			}
			*(dest[0].(*int)) = f.failsRet
			*(dest[1].(**time.Time)) = f.lockedUntil
			return nil
		}}
	default:
		return fakeRow{scan: func(...any) error { return errors.New("unexpected query") }}
	}
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestPG(fp *fakePool) *PG {
	l := NewPG(fp, DefaultPolicy)
	l.now = func() time.Time { return t0 }
	l.shadow.now = l.now
	return l
}

func TestPGAllow_NoRow_Allows(t *testing.T) {
	l := newTestPG(&fakePool{qrErr: pgx.ErrNoRows})
	ok, dur, err := l.Allow(context.Background(), "ghost")
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, dur)
}

func TestPGAllow_NullLock_Allows(t *testing.T) {
	l := newTestPG(&fakePool{})
	ok, _, err := l.Allow(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPGAllow_LockedInFuture(t *testing.T) {
	until := t0.Add(10 * time.Minute)
	l := newTestPG(&fakePool{lockedUntil: &until})
	ok, dur, err := l.Allow(context.Background(), "alice")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 10*time.Minute, dur)
}

func TestPGAllow_ExpiredLock_Allows(t *testing.T) {
	past := t0.Add(-time.Second)
	l := newTestPG(&fakePool{lockedUntil: &past})
	ok, dur, err := l.Allow(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, dur)
}

func TestPGAllow_DBError_Propagates(t *testing.T) {
	l := newTestPG(&fakePool{qrErr: errors.New("db boom")})
	ok, _, err := l.Allow(context.Background(), "alice")
	require.Error(t, err)
	require.False(t, ok)
}

func TestPGFailure_BelowThreshold(t *testing.T) {
	fp := &fakePool{failsRet: 1}
	l := newTestPG(fp)
	remaining, locked, err := l.Failure(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, 2, remaining)
	require.Zero(t, locked)
	require.Equal(t, []any{"alice", 3, t0.Add(15 * time.Minute), t0}, fp.lastArgs)
}

func TestPGFailure_LocksAtThreshold(t *testing.T) {
	until := t0.Add(15 * time.Minute)
	l := newTestPG(&fakePool{failsRet: 0, lockedUntil: &until})
	remaining, locked, err := l.Failure(context.Background(), "alice")
	require.NoError(t, err)
	require.Zero(t, remaining)
	require.Equal(t, 15*time.Minute, locked)
}

func TestPGFailure_UnknownOwnerLocksLikeRealOne(t *testing.T) {
	l := newTestPG(&fakePool{qrErr: pgx.ErrNoRows})
	ctx := context.Background()

	for want := 2; want >= 1; want-- {
		remaining, locked, err := l.Failure(ctx, "ghost")
		require.NoError(t, err)
		require.Equal(t, want, remaining)
		require.Zero(t, locked)
	}
	remaining, locked, err := l.Failure(ctx, "ghost")
	require.NoError(t, err)
	require.Zero(t, remaining)
	require.Equal(t, 15*time.Minute, locked)

	ok, retry, err := l.Allow(ctx, "ghost")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 15*time.Minute, retry)

	ok, _, err = l.Allow(ctx, "other-ghost")
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, l.Sweep(), "lock still active")
}

func TestPGFailure_DBError(t *testing.T) {
	l := newTestPG(&fakePool{qrErr: errors.New("query error")})
	_, _, err := l.Failure(context.Background(), "alice")
	require.Error(t, err)
}

func TestPGSuccess(t *testing.T) {
	fp := &fakePool{}
	l := newTestPG(fp)
	require.NoError(t, l.Success(context.Background(), "alice"))
	require.Contains(t, fp.lastExecSQL, "fail_count=0, locked_until=NULL")

	fp.execErr = errors.New("exec fail")
	require.Error(t, l.Success(context.Background(), "alice"))
}
