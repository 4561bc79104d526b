package syncfile

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func openMem(t *testing.T) (afero.Fs, afero.File) {
	t.Helper()
	fs := afero.NewMemMapFs()
	f, err := fs.Create("/journal.1")
	require.NoError(t, err)
	return fs, f
}

func TestAppendSyncEveryZeroCompletesImmediately(t *testing.T) {
	_, f := openMem(t)
	sf := Open(f, 0, nil)
	defer sf.Close()

	w, err := sf.Append([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Wait())
}

func TestAppendWithPeriodicFlush(t *testing.T) {
	_, f := openMem(t)
	sf := Open(f, 10*time.Millisecond, nil)
	defer sf.Close()

	w, err := sf.Append([]byte("hello"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- w.Wait() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never completed")
	}
}

func TestCloseCompletesPendingWaiters(t *testing.T) {
	_, f := openMem(t)
	sf := Open(f, time.Hour, nil)

	w, err := sf.Append([]byte("hello"))
	require.NoError(t, err)

	require.NoError(t, sf.Close())
	require.NoError(t, w.Wait())
}

func TestAppendAfterCloseFails(t *testing.T) {
	_, f := openMem(t)
	sf := Open(f, 0, nil)
	require.NoError(t, sf.Close())

	_, err := sf.Append([]byte("x"))
	require.Error(t, err)
}
