package newton

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"loadflow/equation"
	"loadflow/types"
)

// Initializer 电压初值
type Initializer interface {
	Initialize(s *equation.System) error
}

// NewInitializer 按模式选择初值
func NewInitializer(mode types.VoltageInitMode) Initializer {
	switch mode {
	case types.VoltageInitDCValues:
		return DCInitializer{}
	case types.VoltageInitPrevious:
		return PreviousInitializer{}
	default:
		return UniformInitializer{}
	}
}

// UniformInitializer 平启动：v=1, φ=0
type UniformInitializer struct{}

func (UniformInitializer) Initialize(s *equation.System) error {
	for _, b := range s.Buses {
		bus := s.Network.Buses[b]
		bus.V, bus.Angle = 1, 0
	}
	return nil
}

// PreviousInitializer 沿用网络中的电压，无效值按平启动处理
type PreviousInitializer struct{}

func (PreviousInitializer) Initialize(s *equation.System) error {
	for _, b := range s.Buses {
		bus := s.Network.Buses[b]
		if !(bus.V > 0) || math.IsInf(bus.V, 0) {
			bus.V = 1
		}
		if math.IsNaN(bus.Angle) || math.IsInf(bus.Angle, 0) {
			bus.Angle = 0
		}
	}
	return nil
}

// DCInitializer 直流潮流相角，v=1
//
// 求解 B'·θ = P，支路电纳取 1/x，移相角折算为两端注入，平衡节点行列删除。
type DCInitializer struct{}

func (DCInitializer) Initialize(s *equation.System) error {
	net := s.Network
	index := make(map[int]int, len(s.Buses))
	for _, b := range s.Buses {
		if b != s.Slack {
			index[b] = len(index)
		}
	}
	n := len(index)
	for _, b := range s.Buses {
		net.Buses[b].V, net.Buses[b].Angle = 1, 0
	}
	if n == 0 {
		return nil
	}
	bp := mat.NewDense(n, n, nil)
	p := mat.NewVecDense(n, nil)
	for b, i := range index {
		if eq := s.Equation(equation.Key{Kind: equation.BusP, Element: b}); eq != nil {
			p.SetVec(i, eq.Target)
		}
	}
	for _, k := range s.Branches {
		br := net.Branches[k]
		if !br.Connected() || br.Bus1 == br.Bus2 || br.X == 0 {
			continue
		}
		y := 1 / br.X
		i, ok1 := index[br.Bus1]
		j, ok2 := index[br.Bus2]
		if ok1 {
			bp.Set(i, i, bp.At(i, i)+y)
			p.SetVec(i, p.AtVec(i)-y*br.Alpha)
		}
		if ok2 {
			bp.Set(j, j, bp.At(j, j)+y)
			p.SetVec(j, p.AtVec(j)+y*br.Alpha)
		}
		if ok1 && ok2 {
			bp.Set(i, j, bp.At(i, j)-y)
			bp.Set(j, i, bp.At(j, i)-y)
		}
	}
	var theta mat.VecDense
	if err := theta.SolveVec(bp, p); err != nil {
		return fmt.Errorf("newton: dc initialization: %w", err)
	}
	for b, i := range index {
		net.Buses[b].Angle = theta.AtVec(i)
	}
	return nil
}
