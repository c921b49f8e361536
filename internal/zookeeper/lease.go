// internal/zookeeper/lease.go
package zookeeper

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/rs/zerolog/log"
)

const (
	leaseRoot = "/bidhub/leases" // 所有后台任务租约的根节点
)

// Conn 是对 zk 连接的薄封装
type Conn struct {
	*zk.Conn
}

// Connect servers 格式为 "host1:2181,host2:2181"
func Connect(servers string, sessionTimeout time.Duration) (*Conn, error) {
	var list []string
	for _, s := range strings.Split(servers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	if len(list) == 0 {
		return nil, errors.New("zookeeper: no server configured")
	}
	c, _, err := zk.Connect(list, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("zookeeper: connect: %w", err)
	}
	return &Conn{Conn: c}, nil
}

// Lease 是一个非阻塞的领导者租约：用临时节点声明持有者，
// 会话断开时节点自动消失，其他实例在下一次 TryAcquire 时接手。
// 它只用来避免多个副本重复扫描，正确性仍然由出价的版本号保证。
type Lease struct {
	conn   *Conn
	path   string
	holder string

	mu   sync.Mutex
	held bool
}

// NewLease 为某个后台任务创建租约，holder 通常是实例 ID
func NewLease(conn *Conn, name, holder string) (*Lease, error) {
	if err := ensurePath(conn, leaseRoot); err != nil {
		return nil, err
	}
	return &Lease{conn: conn, path: leaseRoot + "/" + name, holder: holder}, nil
}

func ensurePath(conn *Conn, path string) error {
	cur := ""
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		cur += "/" + part
		_, err := conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("zookeeper: create %s: %w", cur, err)
		}
	}
	return nil
}

// TryAcquire 不会阻塞等待：拿到或已经持有返回 true，被别人持有返回 false
func (l *Lease) TryAcquire() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.conn.Create(l.path, []byte(l.holder), zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	switch {
	case err == nil:
		if !l.held {
			log.Info().Str("lease", l.path).Str("holder", l.holder).Msg("Lease acquired")
		}
		l.held = true
		return true, nil
	case errors.Is(err, zk.ErrNodeExists):
		data, _, getErr := l.conn.Get(l.path)
		if getErr != nil {
			// 节点可能刚好被删除，下一轮再试
			if errors.Is(getErr, zk.ErrNoNode) {
				return false, nil
			}
			return false, fmt.Errorf("zookeeper: read lease: %w", getErr)
		}
		l.held = string(data) == l.holder
		return l.held, nil
	default:
		l.held = false
		return false, fmt.Errorf("zookeeper: create lease node: %w", err)
	}
}

// Release 主动放弃租约
func (l *Lease) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	l.held = false
	err := l.conn.Delete(l.path, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("zookeeper: delete lease node: %w", err)
	}
	return nil
}
