package service

import "time"

// SetCodeGenerator 测试中替换兑换码生成
func SetCodeGenerator(s *SoftLockService, fn func() (string, error)) {
	s.newCode = fn
}

// RunSweeperTask 同步执行一次带分布式锁的后台任务
var RunSweeperTask = (*Sweeper).run

// LaunchSubject 以发币申请作为托管对象
func LaunchSubject(id string) EscrowSubject {
	return launchSubject{id: id}
}

// LaunchSubjectAt 携带读取时版本的发币托管对象
func LaunchSubjectAt(id string, version time.Time) EscrowSubject {
	return launchSubject{id: id, version: version}
}
