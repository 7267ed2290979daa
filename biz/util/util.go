package util

import (
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/sony/sonyflake"
)

var (
	sonyFlake *sonyflake.Sonyflake
	once      sync.Once
)

// InitSonyFlake 初始化 Snowflake 实例
// 机器号优先取 MACHINE_ID，其次取本机内网 IP 低 16 位，最后退化为进程号
func InitSonyFlake() {
	once.Do(func() {
		sonyFlake = sonyflake.NewSonyflake(sonyflake.Settings{MachineID: machineID})
	})
}

func machineID() (uint16, error) {
	if v := os.Getenv("MACHINE_ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 16)
		if err == nil {
			return uint16(id), nil
		}
	}
	if ip := net.ParseIP(LocalIP()).To4(); ip != nil && !ip.IsLoopback() {
		return uint16(ip[2])<<8 + uint16(ip[3]), nil
	}
	return uint16(os.Getpid() & 0xffff), nil
}

// NextID 生成趋势递增的流水ID
func NextID() (uint64, error) {
	InitSonyFlake()
	return sonyFlake.NextID()
}

// NewUUID 业务记录主键
func NewUUID() string {
	return uuid.NewString()
}
