package equation

import (
	"loadflow/network"
)

// TermKind 项类型
type TermKind int

const (
	TermVar     TermKind = iota // coef·x
	TermBranchP                 // 支路端口有功（两端连接）
	TermBranchQ                 // 支路端口无功（两端连接）
	TermOpenP                   // 支路端口有功（对端断开）
	TermOpenQ                   // 支路端口无功（对端断开）
	TermShuntP                  // g·v²
	TermShuntQ                  // -b·v²
)

// Term 方程项，Element 为支路或并联补偿下标
type Term struct {
	Kind    TermKind
	Element int
	Side    network.Side
	Coef    float64
	Var     VarKey // 仅 TermVar
}

// scaled 返回系数乘以 k 的副本
func scaled(terms []Term, k float64) []Term {
	out := make([]Term, len(terms))
	for i, t := range terms {
		t.Coef *= k
		out[i] = t
	}
	return out
}

// VarValue 变量当前值
func (s *System) VarValue(k VarKey) float64 {
	net := s.Network
	switch k.Kind {
	case VarBusV:
		return net.Buses[k.Element].V
	case VarBusPhi:
		return net.Buses[k.Element].Angle
	case VarBranchRho:
		return net.Branches[k.Element].Rho
	case VarBranchAlpha:
		return net.Branches[k.Element].Alpha
	default:
		return net.Shunts[k.Element].B
	}
}

// SetVarValue 写入变量值
func (s *System) SetVarValue(k VarKey, x float64) {
	net := s.Network
	switch k.Kind {
	case VarBusV:
		net.Buses[k.Element].V = x
	case VarBusPhi:
		net.Buses[k.Element].Angle = x
	case VarBranchRho:
		net.Branches[k.Element].Rho = x
	case VarBranchAlpha:
		net.Branches[k.Element].Alpha = x
	default:
		net.Shunts[k.Element].B = x
	}
}

// branchPower 两端连接支路的端口功率与偏导
func (s *System) branchPower(br *network.Branch, side network.Side) (complex128, network.Derivatives) {
	b1, b2 := s.Network.Buses[br.Bus1], s.Network.Buses[br.Bus2]
	pm := br.PiModel()
	if side == network.Side1 {
		return pm.S1(b1.V, b1.Angle, b2.V, b2.Angle), pm.D1(b1.V, b1.Angle, b2.V, b2.Angle)
	}
	return pm.S2(b1.V, b1.Angle, b2.V, b2.Angle), pm.D2(b1.V, b1.Angle, b2.V, b2.Angle)
}

// TermValue 项的值（含系数）
func (s *System) TermValue(t *Term) float64 {
	net := s.Network
	switch t.Kind {
	case TermVar:
		return t.Coef * s.VarValue(t.Var)
	case TermBranchP, TermBranchQ:
		br := net.Branches[t.Element]
		b1, b2 := net.Buses[br.Bus1], net.Buses[br.Bus2]
		pm := br.PiModel()
		var sp complex128
		if t.Side == network.Side1 {
			sp = pm.S1(b1.V, b1.Angle, b2.V, b2.Angle)
		} else {
			sp = pm.S2(b1.V, b1.Angle, b2.V, b2.Angle)
		}
		if t.Kind == TermBranchP {
			return t.Coef * real(sp)
		}
		return t.Coef * imag(sp)
	case TermOpenP, TermOpenQ:
		br := net.Branches[t.Element]
		sp := br.PiModel().OpenS(t.Side, net.Buses[br.BusAt(t.Side)].V)
		if t.Kind == TermOpenP {
			return t.Coef * real(sp)
		}
		return t.Coef * imag(sp)
	case TermShuntP:
		sh := net.Shunts[t.Element]
		v := net.Buses[sh.Bus].V
		return t.Coef * sh.G * v * v
	case TermShuntQ:
		sh := net.Shunts[t.Element]
		v := net.Buses[sh.Bus].V
		return -t.Coef * sh.B * v * v
	}
	return 0
}

// TermsValue 项之和
func (s *System) TermsValue(terms []Term) float64 {
	sum := 0.0
	for i := range terms {
		sum += s.TermValue(&terms[i])
	}
	return sum
}

// termGradient 对项依赖的每个变量回调偏导（含系数），不区分变量是否激活
func (s *System) termGradient(t *Term, fn func(VarKey, float64)) {
	net := s.Network
	switch t.Kind {
	case TermVar:
		fn(t.Var, t.Coef)
	case TermBranchP, TermBranchQ:
		br := net.Branches[t.Element]
		_, d := s.branchPower(br, t.Side)
		part := func(c complex128) float64 { return t.Coef * real(c) }
		if t.Kind == TermBranchQ {
			part = func(c complex128) float64 { return t.Coef * imag(c) }
		}
		fn(VarKey{VarBusV, br.Bus1}, part(d.DV1))
		fn(VarKey{VarBusV, br.Bus2}, part(d.DV2))
		fn(VarKey{VarBusPhi, br.Bus1}, part(d.DPh1))
		fn(VarKey{VarBusPhi, br.Bus2}, part(d.DPh2))
		fn(VarKey{VarBranchRho, br.Num}, part(d.DR1))
		fn(VarKey{VarBranchAlpha, br.Num}, part(d.DA1))
	case TermOpenP, TermOpenQ:
		br := net.Branches[t.Element]
		bus := br.BusAt(t.Side)
		dv, dr := br.PiModel().OpenD(t.Side, net.Buses[bus].V)
		part := func(c complex128) float64 { return t.Coef * real(c) }
		if t.Kind == TermOpenQ {
			part = func(c complex128) float64 { return t.Coef * imag(c) }
		}
		fn(VarKey{VarBusV, bus}, part(dv))
		if t.Side == network.Side1 {
			fn(VarKey{VarBranchRho, br.Num}, part(dr))
		}
	case TermShuntP:
		sh := net.Shunts[t.Element]
		fn(VarKey{VarBusV, sh.Bus}, t.Coef*2*sh.G*net.Buses[sh.Bus].V)
	case TermShuntQ:
		sh := net.Shunts[t.Element]
		v := net.Buses[sh.Bus].V
		fn(VarKey{VarBusV, sh.Bus}, -t.Coef*2*sh.B*v)
		fn(VarKey{VarShuntB, sh.Num}, -t.Coef*v*v)
	}
}

// TermsDerivative 项之和对单个变量的偏导
func (s *System) TermsDerivative(terms []Term, key VarKey) float64 {
	sum := 0.0
	for i := range terms {
		s.termGradient(&terms[i], func(k VarKey, d float64) {
			if k == key {
				sum += d
			}
		})
	}
	return sum
}

// TermsGradient 项之和对激活变量的梯度，按列写入 grad
func (s *System) TermsGradient(terms []Term, grad []float64) {
	clear(grad)
	for i := range terms {
		s.termGradient(&terms[i], func(k VarKey, d float64) {
			if v := s.Variable(k); v != nil && v.Active {
				grad[v.Column] += d
			}
		})
	}
}
