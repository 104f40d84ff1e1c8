package loadflow

import (
	"github.com/google/uuid"

	"loadflow/types"
)

// PositionKind 离散设备类型
type PositionKind int

const (
	RatioTapPosition PositionKind = iota
	PhaseTapPosition
	ShuntSection
)

func (k PositionKind) String() string {
	switch k {
	case RatioTapPosition:
		return "RATIO_TAP"
	case PhaseTapPosition:
		return "PHASE_TAP"
	default:
		return "SHUNT_SECTION"
	}
}

// Position 离散设备的请求档位与求解档位
type Position struct {
	Device    string
	Kind      PositionKind
	Requested int
	Solved    int
}

// AreaResult 区域交换功率(MW)
type AreaResult struct {
	ID          string
	Target      float64
	Interchange float64
	Excluded    bool // 边界不完整
}

// ComponentResult 单个连通分量的计算结果
type ComponentResult struct {
	Num    int
	Status types.Status

	NewtonIterations int
	OuterIterations  int

	SlackBusID       string
	SlackBusMismatch float64 // 平衡节点有功残差(MW)
	DistributedP     float64 // 分配的有功(MW)

	Areas     []AreaResult
	Positions []Position
	Disabled  []string // 被关闭的控制
}

// Converged 计算收敛
func (c *ComponentResult) Converged() bool { return c.Status == types.StatusConverged }

// Result 一次潮流计算的结果，电压与潮流直接写回网络
type Result struct {
	RunID      uuid.UUID
	Components []*ComponentResult
}

// Component 按编号获取分量结果
func (r *Result) Component(num int) *ComponentResult {
	for _, c := range r.Components {
		if c.Num == num {
			return c
		}
	}
	return nil
}

// Main 主分量结果
func (r *Result) Main() *ComponentResult { return r.Component(0) }

// Converged 所有参与计算的分量均收敛
func (r *Result) Converged() bool {
	calculated := false
	for _, c := range r.Components {
		switch c.Status {
		case types.StatusNoCalculation:
		case types.StatusConverged:
			calculated = true
		default:
			return false
		}
	}
	return calculated
}

// Position 按设备名称与类型查找档位
func (c *ComponentResult) Position(device string, kind PositionKind) (Position, bool) {
	for _, p := range c.Positions {
		if p.Device == device && p.Kind == kind {
			return p, true
		}
	}
	return Position{}, false
}
