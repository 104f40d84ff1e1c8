// Package outerloop 外循环控制
//
// 牛顿迭代收敛后按固定顺序调用控制器：无功越限 -> 变压器电压 -> 并联补偿电压
// -> 变压器无功 -> 移相器 -> 不平衡功率分配/区域交换功率。任一控制器返回
// UNSTABLE 即热启动重新求解并从头开始新一轮检查。
package outerloop

import (
	"fmt"
	"log/slog"

	"loadflow/equation"
	"loadflow/maths"
	"loadflow/network"
	"loadflow/newton"
	"loadflow/types"
)

// Context 单个连通分量求解期间控制器共享的状态
type Context struct {
	System  *equation.System
	Network *network.Network
	Params  *types.Parameters
	Logger  *slog.Logger

	Iteration    int           // 外循环次数
	Newton       newton.Result // 最近一次牛顿求解结果
	DistributedP float64       // 已分配的有功(pu)，发电为正

	lin *newton.Linearization
}

// NewContext 创建上下文
func NewContext(s *equation.System) *Context {
	logger := s.Logger()
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		System:  s,
		Network: s.Network,
		Params:  s.Params(),
		Logger:  logger,
	}
}

// invalidate 运行点改变后丢弃线性化结果
func (c *Context) invalidate() { c.lin = nil }

// Sensitivity 量 quantity 对参数 param 的灵敏度
//
// param 通常为非激活变量（分接头变比、相移、电纳）。其余激活变量随之变化，
// 满足 J·dx/dp = -∂f/∂p，因此 dq/dp = ∂q/∂p + ∇q·dx/dp。
func (c *Context) Sensitivity(param equation.VarKey, quantity []equation.Term) (float64, error) {
	s := c.System
	n := s.Dim()
	if c.lin == nil || c.lin.Dim() != n {
		lin, err := newton.Linearize(s, c.Params.LinearSolver)
		if err != nil {
			return 0, fmt.Errorf("outerloop: sensitivity of %s: %w", param, err)
		}
		c.lin = lin
	}
	dfdp := maths.NewDenseVector(n)
	s.ParameterDerivatives(param, dfdp)
	dfdp.Scale(-1)
	dxdp := maths.NewDenseVector(n)
	if err := c.lin.Solve(dfdp, dxdp); err != nil {
		return 0, fmt.Errorf("outerloop: sensitivity of %s: %w", param, err)
	}
	grad := make([]float64, n)
	s.TermsGradient(quantity, grad)
	sens := s.TermsDerivative(quantity, param)
	for i, g := range grad {
		sens += g * dxdp.Get(i)
	}
	return sens, nil
}

// voltageTerms 母线电压幅值
func voltageTerms(bus int) []equation.Term {
	return []equation.Term{{Kind: equation.TermVar, Coef: 1, Var: equation.VarKey{Kind: equation.VarBusV, Element: bus}}}
}

// flowTerms 支路端口功率
func (c *Context) flowTerms(branch int, side network.Side, reactive bool) []equation.Term {
	return []equation.Term{equation.FlowTerm(c.Network.Branches[branch], side, reactive)}
}
