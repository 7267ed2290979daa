package service

import (
	"fmt"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/gogogo1024/custody-ledger/biz/util"
)

// ServiceName 注册到 Consul 的服务名
const ServiceName = "custody_ledger"

// ConsulHelper 封装 Consul 注册与分布式锁
// 使用前请确保 Consul agent 已启动
type ConsulHelper struct {
	client *api.Client
}

// NewConsulHelper 创建 Consul 客户端
func NewConsulHelper(addr string) (*ConsulHelper, error) {
	cfg := api.DefaultConfig()
	cfg.Address = addr
	cli, err := api.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &ConsulHelper{client: cli}, nil
}

// NewConsulHelperWithAddrs 支持多个 Consul 地址高可用
func NewConsulHelperWithAddrs(addrs []string) (*ConsulHelper, error) {
	var lastErr error
	for _, addr := range addrs {
		h, err := NewConsulHelper(addr)
		if err != nil {
			lastErr = err
			continue
		}
		if _, err := h.client.Agent().Self(); err != nil {
			lastErr = err
			continue
		}
		return h, nil
	}
	return nil, fmt.Errorf("all consul addresses failed: %v", lastErr)
}

// Register 注册本节点，TCP 健康检查指向 HTTP 端口
func (c *ConsulHelper) Register(nodeID string, port int) error {
	ip := util.LocalIP()
	reg := &api.AgentServiceRegistration{
		ID:      nodeID,
		Name:    ServiceName,
		Address: ip,
		Port:    port,
		Check: &api.AgentServiceCheck{
			TCP:                            fmt.Sprintf("%s:%d", ip, port),
			Interval:                       "10s",
			Timeout:                        "2s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
	return c.client.Agent().ServiceRegister(reg)
}

func (c *ConsulHelper) Deregister(nodeID string) error {
	return c.client.Agent().ServiceDeregister(nodeID)
}

// TryLock 尝试获取分布式锁，只试一次；未抢到时 ok 为 false
func (c *ConsulHelper) TryLock(key string) (unlock func(), ok bool, err error) {
	lock, err := c.client.LockOpts(&api.LockOptions{
		Key:          key,
		LockTryOnce:  true,
		LockWaitTime: 5 * time.Second,
	})
	if err != nil {
		return nil, false, err
	}
	leaderCh, err := lock.Lock(make(chan struct{}))
	if err != nil {
		return nil, false, err
	}
	if leaderCh == nil {
		return nil, false, nil
	}
	return func() { _ = lock.Unlock() }, true, nil
}

// Client 返回 consul client
func (c *ConsulHelper) Client() *api.Client {
	return c.client
}
