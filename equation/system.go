package equation

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"loadflow/maths"
	"loadflow/network"
	"loadflow/types"
)

// ErrIndex 激活方程数与激活变量数不等
var ErrIndex = errors.New("equation: active equation and variable counts differ")

// Variable 变量表项
type Variable struct {
	Key    VarKey
	Active bool
	Column int // 激活时的列号，否则 -1
}

// Equation 方程表项，f = Σ terms - Target
type Equation struct {
	Key    Key
	Active bool
	Row    int // 激活时的行号，否则 -1
	Terms  []Term
	Target float64
}

// System 单个连通分量的方程组
type System struct {
	Network   *network.Network
	Component int
	Slack     int // 平衡节点母线下标

	Buses      []int // 分量内母线
	Branches   []int // 至少一端在分量内的支路
	Generators []int // 分量内已连接发电机
	Loads      []int // 分量内已连接负荷
	Shunts     []int // 分量内已连接并联补偿
	Areas      []int // 参与交换功率控制的区域

	ExcludedAreas []int // 边界不完整而排除的区域

	GeneratorGroups       []*GeneratorGroup
	TransformerGroups     []*TransformerGroup
	ShuntGroups           []*ShuntGroup
	ReactivePowerControls []*FlowControl
	PhaseControls         []*FlowControl

	// Disabled 因配置问题被关闭的控制
	Disabled []string

	params     *types.Parameters
	logger     *slog.Logger
	regulating map[int]bool            // 参与调压的发电机
	controller map[int]*GeneratorGroup // 控制母线 -> 调压组

	vars     []*Variable
	varIndex map[VarKey]*Variable
	eqs      []*Equation
	eqIndex  map[Key]*Equation
	rows     []*Equation
	cols     []*Variable
}

// Params 计算参数
func (s *System) Params() *types.Parameters { return s.params }

// Logger 日志
func (s *System) Logger() *slog.Logger { return s.logger }

// Variable 按键查找变量，不存在返回 nil
func (s *System) Variable(k VarKey) *Variable { return s.varIndex[k] }

// Equation 按键查找方程，不存在返回 nil
func (s *System) Equation(k Key) *Equation { return s.eqIndex[k] }

// Equations 全部方程（表序）
func (s *System) Equations() []*Equation { return s.eqs }

// Rows 激活方程（行序）
func (s *System) Rows() []*Equation { return s.rows }

// Columns 激活变量（列序）
func (s *System) Columns() []*Variable { return s.cols }

func (s *System) addVariable(k VarKey) *Variable {
	if v, ok := s.varIndex[k]; ok {
		return v
	}
	v := &Variable{Key: k, Column: -1}
	s.vars = append(s.vars, v)
	s.varIndex[k] = v
	return v
}

func (s *System) addEquation(k Key, terms []Term) *Equation {
	if eq, ok := s.eqIndex[k]; ok {
		eq.Terms = terms
		return eq
	}
	eq := &Equation{Key: k, Row: -1, Terms: terms}
	s.eqs = append(s.eqs, eq)
	s.eqIndex[k] = eq
	return eq
}

// setActive 设置方程激活状态（方程不存在时忽略）
func (s *System) setActive(k Key, active bool) {
	if eq := s.eqIndex[k]; eq != nil {
		eq.Active = active
	}
}

func (s *System) setVarActive(k VarKey, active bool) {
	if v := s.varIndex[k]; v != nil {
		v.Active = active
	}
}

// VarActive 变量是否存在且激活
func (s *System) VarActive(k VarKey) bool {
	v := s.varIndex[k]
	return v != nil && v.Active
}

// Index 按表序为激活方程编行号、激活变量编列号
func (s *System) Index() error {
	s.rows, s.cols = s.rows[:0], s.cols[:0]
	for _, eq := range s.eqs {
		eq.Row = -1
		if eq.Active {
			eq.Row = len(s.rows)
			s.rows = append(s.rows, eq)
		}
	}
	for _, v := range s.vars {
		v.Column = -1
		if v.Active {
			v.Column = len(s.cols)
			s.cols = append(s.cols, v)
		}
	}
	if len(s.rows) != len(s.cols) {
		return fmt.Errorf("%w: component %d has %d equations and %d variables",
			ErrIndex, s.Component, len(s.rows), len(s.cols))
	}
	return nil
}

// Dim 激活方程数
func (s *System) Dim() int { return len(s.rows) }

// Eval 方程残差 f = Σ terms - Target（不论是否激活）
func (s *System) Eval(eq *Equation) float64 {
	return s.TermsValue(eq.Terms) - eq.Target
}

// State 激活变量当前值
func (s *System) State(x maths.Vector) {
	for i, v := range s.cols {
		x.Set(i, s.VarValue(v.Key))
	}
}

// SetState 写回激活变量
func (s *System) SetState(x maths.Vector) {
	for i, v := range s.cols {
		s.SetVarValue(v.Key, x.Get(i))
	}
}

// Residuals 激活方程残差
func (s *System) Residuals(f maths.Vector) {
	for i, eq := range s.rows {
		f.Set(i, s.Eval(eq))
	}
}

// Jacobian 激活方程对激活变量的偏导
func (s *System) Jacobian(j maths.Matrix) {
	j.Zero()
	for row, eq := range s.rows {
		for i := range eq.Terms {
			s.termGradient(&eq.Terms[i], func(k VarKey, d float64) {
				if v := s.varIndex[k]; v != nil && v.Active {
					j.Increment(row, v.Column, d)
				}
			})
		}
	}
}

// ParameterDerivatives 激活方程对 key（通常为非激活变量）的偏导
func (s *System) ParameterDerivatives(key VarKey, out maths.Vector) {
	for row, eq := range s.rows {
		out.Set(row, s.TermsDerivative(eq.Terms, key))
	}
}

// Apply x += dx
func (s *System) Apply(dx maths.Vector) {
	for i, v := range s.cols {
		s.SetVarValue(v.Key, s.VarValue(v.Key)+dx.Get(i))
	}
}

// Epsilon 分类收敛容差（标幺值）
func (s *System) Epsilon(c Class) float64 {
	p := s.params
	switch c {
	case ClassActivePower:
		return p.MaxActivePowerMismatch / s.Network.BaseMVA
	case ClassReactivePower:
		return p.MaxReactivePowerMismatch / s.Network.BaseMVA
	case ClassVoltage:
		return p.MaxVoltageMismatch
	case ClassAngle:
		return p.MaxAngleMismatch
	case ClassRatio:
		return p.MaxRatioMismatch
	default:
		return p.MaxSusceptanceMismatch
	}
}

// Converged 每个激活方程的残差都小于所属分类的容差
func (s *System) Converged(f maths.Vector) bool {
	var eps [classCount]float64
	for c := range eps {
		eps[c] = s.Epsilon(Class(c))
	}
	for i, eq := range s.rows {
		if !(math.Abs(f.Get(i)) < eps[eq.Key.Kind.Class()]) {
			return false
		}
	}
	return true
}

// Mismatches 各分类最大残差
func (s *System) Mismatches(f maths.Vector) map[Class]float64 {
	out := make(map[Class]float64, classCount)
	for i, eq := range s.rows {
		c := eq.Key.Kind.Class()
		out[c] = math.Max(out[c], math.Abs(f.Get(i)))
	}
	return out
}

// StepScale 限制单步状态变化的缩放系数
//
// 母线电压、相角以及控制变量（变比、相移、电纳）各有单步上限，取最严格者。
func (s *System) StepScale(dx maths.Vector) float64 {
	scale := 1.0
	limit := func(d, bound float64) {
		if d = math.Abs(d); d > bound {
			scale = math.Min(scale, bound/d)
		}
	}
	for i, v := range s.cols {
		switch v.Key.Kind {
		case VarBusV:
			limit(dx.Get(i), types.MaxVoltageChange)
		case VarBusPhi:
			limit(dx.Get(i), types.MaxAngleChange)
		case VarBranchRho:
			limit(dx.Get(i), types.MaxRatioChange)
		case VarBranchAlpha:
			limit(dx.Get(i), types.MaxAngleChange)
		case VarShuntB:
			limit(dx.Get(i), types.MaxSusceptanceChange)
		}
	}
	return scale
}

// disable 记录被关闭的控制
func (s *System) disable(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.Disabled = append(s.Disabled, msg)
	s.logger.Warn("control disabled", "reason", msg)
}
