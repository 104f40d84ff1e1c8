package types

import "errors"

// 错误定义
var (
	// ErrSlackDistribution 不平衡功率无法分配（THROW 策略）
	ErrSlackDistribution = errors.New("loadflow: slack distribution failure")
	// ErrInvalidParameters 参数取值非法
	ErrInvalidParameters = errors.New("loadflow: invalid parameters")
)
