package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// Redis 分布式锁
// ============================================================================
//
// 加锁：SET key owner NX PX ttl，ttl 防止持锁进程崩溃后死锁
// 释放：Lua 脚本先比对 owner 再 DEL，避免删掉别人在锁过期后拿到的锁
//
// 过期扫描用它保证多实例部署时同一时刻只有一个实例在扫
// ============================================================================

const SweepLockKey = "groupbuy:sweep:lock"

var ErrLockNotHeld = errors.New("锁不属于当前持有者或已过期")

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	owner      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, owner string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		owner:      owner,
		expiration: expiration,
	}
}

// NewSweepLock 过期扫描锁，owner 建议用实例标识 + 本次运行的随机串
func NewSweepLock(client *redis.Client, owner string, expiration time.Duration) *DistributedLock {
	return NewDistributedLock(client, SweepLockKey, owner, expiration)
}

// TryLock 非阻塞加锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.owner, l.expiration).Result()
}

// Unlock 只释放自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	n, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.owner).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
