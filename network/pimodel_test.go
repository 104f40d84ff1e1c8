package network

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testModel() PiModel {
	return PiModel{
		Y:  1 / complex(0.01, 0.1),
		Y1: complex(0.001, 0.02),
		Y2: complex(0.002, 0.015),
		R1: 1.03,
		A1: 0.05,
	}
}

// TestPiModelDerivatives 解析偏导数与有限差分一致
func TestPiModelDerivatives(t *testing.T) {
	pm := testModel()
	v1, ph1, v2, ph2 := 1.02, 0.1, 0.97, -0.05
	const h = 1e-7

	check := func(name string, s func(PiModel, float64, float64, float64, float64) complex128, d Derivatives) {
		base := s(pm, v1, ph1, v2, ph2)
		fd := func(f complex128) complex128 { return (f - base) / h }
		shifted := pm
		shifted.R1 += h
		shiftedA := pm
		shiftedA.A1 += h
		cases := map[string][2]complex128{
			"v1":  {fd(s(pm, v1+h, ph1, v2, ph2)), d.DV1},
			"v2":  {fd(s(pm, v1, ph1, v2+h, ph2)), d.DV2},
			"ph1": {fd(s(pm, v1, ph1+h, v2, ph2)), d.DPh1},
			"ph2": {fd(s(pm, v1, ph1, v2, ph2+h)), d.DPh2},
			"r1":  {fd(s(shifted, v1, ph1, v2, ph2)), d.DR1},
			"a1":  {fd(s(shiftedA, v1, ph1, v2, ph2)), d.DA1},
		}
		for v, c := range cases {
			assert.InDelta(t, 0, cmplx.Abs(c[0]-c[1]), 1e-4, "%s d/d%s: 差分 %v 解析 %v", name, v, c[0], c[1])
		}
	}
	check("S1", PiModel.S1, pm.D1(v1, ph1, v2, ph2))
	check("S2", PiModel.S2, pm.D2(v1, ph1, v2, ph2))
}

// TestPiModelMatchesAdmittance 与节点导纳矩阵计算结果一致
func TestPiModelMatchesAdmittance(t *testing.T) {
	pm := testModel()
	v1, ph1, v2, ph2 := 1.02, 0.1, 0.97, -0.05
	V1, V2 := cmplx.Rect(v1, ph1), cmplx.Rect(v2, ph2)
	r := complex(pm.R1, 0)
	y11 := r * r * (pm.Y + pm.Y1)
	y12 := -r * cmplx.Exp(complex(0, -pm.A1)) * pm.Y
	y21 := -r * cmplx.Exp(complex(0, pm.A1)) * pm.Y
	y22 := pm.Y + pm.Y2
	s1 := V1 * cmplx.Conj(y11*V1+y12*V2)
	s2 := V2 * cmplx.Conj(y21*V1+y22*V2)
	assert.InDelta(t, 0, cmplx.Abs(s1-pm.S1(v1, ph1, v2, ph2)), 1e-12)
	assert.InDelta(t, 0, cmplx.Abs(s2-pm.S2(v1, ph1, v2, ph2)), 1e-12)
}

// TestOpenSide 一端断开时等值为对地导纳
func TestOpenSide(t *testing.T) {
	pm := testModel()
	// 2 端开路：在 S1 中令 I2=0 对应的 v2、θ2 求得的功率应与 OpenS 相同
	v1, ph1 := 1.01, 0.0
	r := complex(pm.R1, 0)
	V1p := r * cmplx.Exp(complex(0, pm.A1)) * cmplx.Rect(v1, ph1)
	V2 := pm.Y * V1p / (pm.Y + pm.Y2)
	s1 := pm.S1(v1, ph1, cmplx.Abs(V2), cmplx.Phase(V2))
	assert.InDelta(t, 0, cmplx.Abs(s1-pm.OpenS(Side1, v1)), 1e-12)

	dv, dr := pm.OpenD(Side1, v1)
	const h = 1e-7
	assert.InDelta(t, 0, cmplx.Abs((pm.OpenS(Side1, v1+h)-pm.OpenS(Side1, v1))/h-dv), 1e-5)
	shifted := pm
	shifted.R1 += h
	assert.InDelta(t, 0, cmplx.Abs((shifted.OpenS(Side1, v1)-pm.OpenS(Side1, v1))/h-dr), 1e-5)

	// 纯串联支路一端开路无功率
	bare := PiModel{Y: pm.Y, R1: 1}
	assert.InDelta(t, 0, cmplx.Abs(bare.OpenS(Side2, 1)), 1e-15)
	assert.True(t, math.IsNaN(Current(0, 0)))
}

func TestTerminalPowerDisconnected(t *testing.T) {
	n := NewEurostagTutorial()
	n.ConnectedComponents()
	br := n.Branch("NHV1_NHV2_1")
	br.Connected1, br.Connected2 = false, false
	assert.True(t, cmplx.IsNaN(n.TerminalPower(br, Side1)))
	n.ClearFlows(-1)
	assert.True(t, math.IsNaN(br.P1))
	assert.True(t, math.IsNaN(br.Q2))
	assert.True(t, math.IsNaN(n.CurrentAmpere(br, Side2)))
}
