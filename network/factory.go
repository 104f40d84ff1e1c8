package network

import (
	"math"

	"loadflow/types"
)

// 参考算例，供测试与命令行演示使用

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}

// NewEurostagTutorial 四母线算例：发电机 - 升压变 - 双回 380kV 线路 - 降压变 - 负荷
//
// 降压变带有载调压分接头（目标 158kV，默认不投入调节）。
func NewEurostagTutorial() *Network {
	n := New(100)
	must(n.AddBus("NGEN", 24))
	must(n.AddBus("NHV1", 380))
	must(n.AddBus("NHV2", 380))
	must(n.AddBus("NLOAD", 150))

	zbHV, zbLoad := 380.0*380.0/100, 150.0*150.0/100
	must(n.AddTransformer(TransformerSpec{
		ID: "NGEN_NHV1", Bus1: "NGEN", Bus2: "NHV1",
		RatedU1: 24, RatedU2: 400,
		R: 0.24 / 1300 * zbHV,
		X: math.Sqrt(10*10-0.24*0.24) / 1300 * zbHV,
	}))
	for _, id := range []string{"NHV1_NHV2_1", "NHV1_NHV2_2"} {
		must(n.AddLine(LineSpec{
			ID: id, Bus1: "NHV1", Bus2: "NHV2",
			R: 3, X: 33,
			B1: 386e-6 / 2, B2: 386e-6 / 2,
		}))
	}
	must(n.AddTransformer(TransformerSpec{
		ID: "NHV2_NLOAD", Bus1: "NHV2", Bus2: "NLOAD",
		RatedU1: 400, RatedU2: 158,
		R: 0.21 / 1000 * zbLoad,
		X: math.Sqrt(18*18-0.21*0.21) / 1000 * zbLoad,
	}))
	a := (158.0 / 150.0) / (400.0 / 380.0)
	mustDo(n.AttachRatioTap("NHV2_NLOAD", RatioTapSpec{
		LowPosition:  0,
		Position:     1,
		Rhos:         []float64{0.85 * a, a, 1.15 * a},
		RegulatedBus: "NLOAD",
		TargetV:      158,
	}))

	must(n.AddGenerator(GeneratorSpec{
		ID: "GEN", Bus: "NGEN",
		TargetP: 607, MinP: -9999.99, MaxP: 9999.99,
		TargetQ: 301, MinQ: -9999.99, MaxQ: 9999.99,
		VoltageRegulatorOn: true, TargetV: 24.5,
	}))
	must(n.AddLoad(LoadSpec{ID: "LOAD", Bus: "NLOAD", P: 600, Q: 200}))
	return n
}

// NewPhaseShifterCase 三母线移相器算例
//
//	B1 --L1-- B2 --L2-- B3
//	 \__________PS1_____/
//
// B3 上的 G3 使 PS1 自然潮流由 B3 流向 B1（约 50MW）。PS1 档位 -20°..20°
// 步长 0.1°，初始档位 200（0°），有功控制默认不投入。
func NewPhaseShifterCase() *Network {
	n := New(100)
	for _, id := range []string{"B1", "B2", "B3"} {
		must(n.AddBus(id, 380))
	}
	must(n.AddLine(LineSpec{ID: "L1", Bus1: "B1", Bus2: "B2", R: 2, X: 100}))
	must(n.AddLine(LineSpec{ID: "L2", Bus1: "B3", Bus2: "B2", R: 2, X: 100}))
	must(n.AddTransformer(TransformerSpec{
		ID: "PS1", Bus1: "B1", Bus2: "B3",
		RatedU1: 380, RatedU2: 380, R: 2, X: 100,
	}))
	alphas := make([]float64, 401)
	for i := range alphas {
		alphas[i] = -20 + 0.1*float64(i)
	}
	mustDo(n.AttachPhaseTap("PS1", PhaseTapSpec{
		LowPosition: 0,
		Position:    200,
		Alphas:      alphas,
		Mode:        types.PhaseActivePowerControl,
		Side:        Side1,
		Target:      83,
		Deadband:    1,
	}))
	must(n.AddGenerator(GeneratorSpec{
		ID: "G1", Bus: "B1",
		TargetP: 100, MinP: 0, MaxP: 1000,
		MinQ: -9999, MaxQ: 9999,
		VoltageRegulatorOn: true, TargetV: 400,
	}))
	must(n.AddGenerator(GeneratorSpec{
		ID: "G3", Bus: "B3",
		TargetP: 200, MinP: 0, MaxP: 1000,
		MinQ: -9999, MaxQ: 9999,
		VoltageRegulatorOn: true, TargetV: 400,
	}))
	must(n.AddLoad(LoadSpec{ID: "LD2", Bus: "B2", P: 250, Q: 50}))
	return n
}

// NewTwoAreaCase 两区域算例，A 区发电机为平衡机且最小出力 280MW
//
// 区域 A 目标输出 50MW，区域 B 目标输入 50MW。
func NewTwoAreaCase() *Network {
	n := New(100)
	must(n.AddBus("BA", 380))
	must(n.AddBus("BB", 380))
	must(n.AddLine(LineSpec{ID: "TIE", Bus1: "BA", Bus2: "BB", R: 1, X: 10}))
	must(n.AddGenerator(GeneratorSpec{
		ID: "GA", Bus: "BA",
		TargetP: 300, MinP: 280, MaxP: 1000,
		MinQ: -9999, MaxQ: 9999,
		VoltageRegulatorOn: true, TargetV: 390,
	}))
	must(n.AddGenerator(GeneratorSpec{
		ID: "GB", Bus: "BB",
		TargetP: 200, MinP: 0, MaxP: 1000,
		MinQ: -9999, MaxQ: 9999,
		VoltageRegulatorOn: true, TargetV: 388,
	}))
	must(n.AddLoad(LoadSpec{ID: "LA", Bus: "BA", P: 200, Q: 20}))
	must(n.AddLoad(LoadSpec{ID: "LB", Bus: "BB", P: 300, Q: 30}))
	must(n.AddArea(AreaSpec{
		ID: "A", Target: 50, Buses: []string{"BA"},
		Boundaries: []BoundarySpec{{Branch: "TIE", Side: Side1}},
	}))
	must(n.AddArea(AreaSpec{
		ID: "B", Target: -50, Buses: []string{"BB"},
		Boundaries: []BoundarySpec{{Branch: "TIE", Side: Side2}},
	}))
	return n
}
