package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogogo1024/custody-ledger/biz/service"
)

type fakeLocker struct {
	held     map[string]bool
	err      error
	unlocked int
}

func (l *fakeLocker) TryLock(key string) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held[key] {
		return nil, false, nil
	}
	return func() { l.unlocked++ }, true, nil
}

func TestSweeperRunsUnderLock(t *testing.T) {
	e := newEnv(t)
	s := newSoftLock(e, &fakeTransferer{})
	locker := &fakeLocker{held: map[string]bool{}}
	sw := service.NewSweeper(s, e.comp, locker)

	ran := 0
	task := func(context.Context) error { ran++; return nil }
	service.RunSweeperTask(sw, "t", "k", task)
	assert.Equal(t, 1, ran)
	assert.Equal(t, 1, locker.unlocked)

	locker.held["k"] = true
	service.RunSweeperTask(sw, "t", "k", task)
	assert.Equal(t, 1, ran, "another node holds the lock")

	locker.err = errors.New("consul down")
	service.RunSweeperTask(sw, "t", "other", task)
	assert.Equal(t, 1, ran)
}

func TestSweeperWithoutLocker(t *testing.T) {
	e := newEnv(t)
	e.open(t, "alice", "10", "")
	s := newSoftLock(e, &fakeTransferer{})
	_, err := s.Reserve(ctx, "alice", dec("4"), "")
	require.NoError(t, err)
	sw := service.NewSweeper(s, e.comp, nil)

	e.clock.Advance(time.Hour)
	require.NoError(t, sw.SweepOnce(ctx))
	require.NoError(t, sw.CompensateOnce(ctx))
	assertDec(t, "10", e.balance(t, "alice").TokenAvailable)

	failing := errors.New("task failed")
	service.RunSweeperTask(sw, "t", "k", func(context.Context) error { return failing })
}

func TestSweeperStartValidatesSpecs(t *testing.T) {
	e := newEnv(t)
	sw := service.NewSweeper(newSoftLock(e, &fakeTransferer{}), e.comp, nil)
	assert.Error(t, sw.Start("not a spec", "@every 1m"))

	sw = service.NewSweeper(newSoftLock(e, &fakeTransferer{}), e.comp, nil)
	require.NoError(t, sw.Start("@every 1h", "@every 1h"))
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	sw.Stop(stopCtx)
}
