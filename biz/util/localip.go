package util

import (
	"net"
	"os"
)

// ipEnvKeys 容器环境下由编排注入的地址，按顺序取第一个合法值
var ipEnvKeys = []string{"POD_IP", "HOST_IP", "SERVICE_HOST"}

// LocalIP 本节点对外地址，用于 Consul 注册与生成 sonyflake 机器号
func LocalIP() string {
	for _, k := range ipEnvKeys {
		if ip := net.ParseIP(os.Getenv(k)); ip != nil {
			return ip.String()
		}
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	var fallback net.IP
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		// 内网地址优先
		if ip4.IsPrivate() {
			return ip4.String()
		}
		if fallback == nil {
			fallback = ip4
		}
	}
	if fallback != nil {
		return fallback.String()
	}
	return "127.0.0.1"
}
