package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// SenderLock serializes state-changing submissions per sending account so
// one account's nonce sequence is never used out of order. The returned
// release func must be called exactly once.
type SenderLock interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// SenderKey scopes a sender lock to one chain. Nonces are per chain, so
// the same account on two chains never contends.
func SenderKey(chainID *big.Int, sender common.Address) string {
	return fmt.Sprintf("%s:%s", chainID, strings.ToLower(sender.Hex()))
}

// LocalSenderLock is an in-process SenderLock
type LocalSenderLock struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocalSenderLock creates an in-process per-key lock
func NewLocalSenderLock() *LocalSenderLock {
	return &LocalSenderLock{locks: make(map[string]chan struct{})}
}

// Acquire blocks until key is free or ctx is done
func (l *LocalSenderLock) Acquire(ctx context.Context, key string) (func(), error) {
	ch := l.slot(strings.ToLower(key))
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}

func (l *LocalSenderLock) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	return ch
}

var _ SenderLock = (*LocalSenderLock)(nil)
