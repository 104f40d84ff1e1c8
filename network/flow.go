package network

import (
	"math"
	"math/cmplx"
)

// VoltageKV 电压(kV)
func (b *Bus) VoltageKV() float64 { return b.V * b.NominalV }

// AngleDegrees 相角(度)
func (b *Bus) AngleDegrees() float64 { return b.Angle * 180 / math.Pi }

// TerminalPower 支路端口流出功率(pu)，端口断开返回 NaN
func (n *Network) TerminalPower(br *Branch, side Side) complex128 {
	if !br.ConnectedAt(side) {
		return cmplx.NaN()
	}
	pm := br.PiModel()
	b1, b2 := n.Buses[br.Bus1], n.Buses[br.Bus2]
	switch {
	case br.Connected():
		if side == Side1 {
			return pm.S1(b1.V, b1.Angle, b2.V, b2.Angle)
		}
		return pm.S2(b1.V, b1.Angle, b2.V, b2.Angle)
	case side == Side1:
		return pm.OpenS(Side1, b1.V)
	default:
		return pm.OpenS(Side2, b2.V)
	}
}

// ComputeFlows 计算连通分量内支路端口潮流（MW/MVar/A）
func (n *Network) ComputeFlows(component int) {
	for _, br := range n.Branches {
		if n.BranchComponent(br) != component {
			continue
		}
		br.P1, br.Q1, br.I1 = n.terminalResult(br, Side1)
		br.P2, br.Q2, br.I2 = n.terminalResult(br, Side2)
	}
}

// ClearFlows 将连通分量内（component 为 -1 时为两端断开的）支路结果置为 NaN
func (n *Network) ClearFlows(component int) {
	nan := math.NaN()
	for _, br := range n.Branches {
		if n.BranchComponent(br) == component {
			br.P1, br.Q1, br.I1 = nan, nan, nan
			br.P2, br.Q2, br.I2 = nan, nan, nan
		}
	}
}

func (n *Network) terminalResult(br *Branch, side Side) (p, q, i float64) {
	s := n.TerminalPower(br, side)
	if cmplx.IsNaN(s) {
		nan := math.NaN()
		return nan, nan, nan
	}
	bus := n.Buses[br.BusAt(side)]
	return n.MW(real(s)), n.MW(imag(s)), n.Ampere(Current(s, bus.V), bus.NominalV)
}

// CurrentAmpere 支路端口电流(A)
func (n *Network) CurrentAmpere(br *Branch, side Side) float64 {
	s := n.TerminalPower(br, side)
	if cmplx.IsNaN(s) {
		return math.NaN()
	}
	bus := n.Buses[br.BusAt(side)]
	return n.Ampere(Current(s, bus.V), bus.NominalV)
}
