package network

import (
	"math"
	"math/cmplx"

	"loadflow/types"
)

// PiModel 支路 π 型导纳参数
//
// 理想变压器 r1·e^{j·a1} 位于 1 端，其后依次为 y1、串联 y、y2。
//
//	S1 = conj(y+y1)·r1²·v1² + v1·v2·c1, c1 = -r1·conj(y)·e^{j(a1+θ1-θ2)}
//	S2 = conj(y+y2)·v2²     + v1·v2·c2, c2 = -r1·conj(y)·e^{j(θ2-θ1-a1)}
type PiModel struct {
	Y, Y1, Y2 complex128
	R1, A1    float64
}

// PiModel 由支路当前状态生成导纳参数
func (b *Branch) PiModel() PiModel {
	z := complex(b.R, b.X)
	if cmplx.Abs(z) < types.MinImpedance {
		z = complex(0, types.MinImpedance)
	}
	return PiModel{
		Y:  1 / z,
		Y1: complex(b.G1, b.B1),
		Y2: complex(b.G2, b.B2),
		R1: b.Rho,
		A1: b.Alpha,
	}
}

// Derivatives 端口功率对各变量的偏导数
type Derivatives struct {
	DV1, DV2   complex128
	DPh1, DPh2 complex128
	DR1, DA1   complex128
}

func (p PiModel) c1(ph1, ph2 float64) complex128 {
	return complex(-p.R1, 0) * cmplx.Conj(p.Y) * cmplx.Rect(1, p.A1+ph1-ph2)
}

func (p PiModel) c2(ph1, ph2 float64) complex128 {
	return complex(-p.R1, 0) * cmplx.Conj(p.Y) * cmplx.Rect(1, ph2-ph1-p.A1)
}

// S1 1 端流出功率(pu)
func (p PiModel) S1(v1, ph1, v2, ph2 float64) complex128 {
	return cmplx.Conj(p.Y+p.Y1)*complex(p.R1*p.R1*v1*v1, 0) + complex(v1*v2, 0)*p.c1(ph1, ph2)
}

// S2 2 端流出功率(pu)
func (p PiModel) S2(v1, ph1, v2, ph2 float64) complex128 {
	return cmplx.Conj(p.Y+p.Y2)*complex(v2*v2, 0) + complex(v1*v2, 0)*p.c2(ph1, ph2)
}

// D1 S1 的偏导数
func (p PiModel) D1(v1, ph1, v2, ph2 float64) Derivatives {
	c := p.c1(ph1, ph2)
	vv := complex(v1*v2, 0)
	self := cmplx.Conj(p.Y + p.Y1)
	return Derivatives{
		DV1:  self*complex(2*p.R1*p.R1*v1, 0) + complex(v2, 0)*c,
		DV2:  complex(v1, 0) * c,
		DPh1: 1i * vv * c,
		DPh2: -1i * vv * c,
		DR1:  self*complex(2*p.R1*v1*v1, 0) + vv*c/complex(p.R1, 0),
		DA1:  1i * vv * c,
	}
}

// D2 S2 的偏导数
func (p PiModel) D2(v1, ph1, v2, ph2 float64) Derivatives {
	c := p.c2(ph1, ph2)
	vv := complex(v1*v2, 0)
	return Derivatives{
		DV1:  complex(v2, 0) * c,
		DV2:  cmplx.Conj(p.Y+p.Y2)*complex(2*v2, 0) + complex(v1, 0)*c,
		DPh1: -1i * vv * c,
		DPh2: 1i * vv * c,
		DR1:  vv * c / complex(p.R1, 0),
		DA1:  -1i * vv * c,
	}
}

// openSide1 2 端断开时 1 端的等值导纳（已折算到理想变压器后）
func (p PiModel) openSide1() complex128 {
	return p.Y1 + p.Y*p.Y2/(p.Y+p.Y2)
}

// openSide2 1 端断开时 2 端的等值导纳
func (p PiModel) openSide2() complex128 {
	return p.Y2 + p.Y*p.Y1/(p.Y+p.Y1)
}

// OpenS 仅 side 端连接时该端流出功率
func (p PiModel) OpenS(side Side, v float64) complex128 {
	if side == Side1 {
		return cmplx.Conj(p.openSide1()) * complex(p.R1*p.R1*v*v, 0)
	}
	return cmplx.Conj(p.openSide2()) * complex(v*v, 0)
}

// OpenD 仅 side 端连接时对 v 与 r1 的偏导
func (p PiModel) OpenD(side Side, v float64) (dv, dr1 complex128) {
	if side == Side1 {
		y := cmplx.Conj(p.openSide1())
		return y * complex(2*p.R1*p.R1*v, 0), y * complex(2*p.R1*v*v, 0)
	}
	return cmplx.Conj(p.openSide2()) * complex(2*v, 0), 0
}

// Current 端口电流幅值(pu)
func Current(s complex128, v float64) float64 {
	if v == 0 {
		return math.NaN()
	}
	return cmplx.Abs(s) / v
}
