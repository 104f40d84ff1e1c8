// Package network 电网拓扑与设备模型
//
// 母线、支路、注入设备与区域以整数下标存放在 Network 中，
// 设备之间只通过下标引用。内部数值全部为标幺值，物理单位只出现在
// 构建接口（builder.go）和结果字段中。
package network

import (
	"errors"
	"fmt"

	"loadflow/types"
)

// 错误定义
var (
	ErrUnknownBus    = errors.New("network: unknown bus")
	ErrUnknownBranch = errors.New("network: unknown branch")
	ErrDuplicateID   = errors.New("network: duplicate id")
	ErrInvalidValue  = errors.New("network: invalid value")
)

// Side 支路端
type Side int

const (
	Side1 Side = 1
	Side2 Side = 2
)

// Other 另一端
func (s Side) Other() Side {
	if s == Side1 {
		return Side2
	}
	return Side1
}

func (s Side) String() string { return fmt.Sprintf("SIDE_%d", int(s)) }

// Limit 无功越限状态
type Limit int

const (
	LimitNone Limit = iota
	LimitMin
	LimitMax
)

// Bus 母线
type Bus struct {
	Num       int     // 下标
	ID        string  // 名称
	NominalV  float64 // 额定电压(kV)
	V         float64 // 电压幅值(pu)
	Angle     float64 // 相角(rad)
	Slack     bool    // 平衡节点
	Component int     // 连通分量编号，-1 表示孤立
	Area      int     // 所属区域，-1 表示无

	VoltageControlOn bool  // 发电机电压控制处于投入(PV)状态
	QLimit           Limit // 越限后固定的无功限值
	PqPvSwitches     int   // PQ->PV 切换次数
}

// BranchKind 支路类型
type BranchKind int

const (
	KindLine BranchKind = iota
	KindTransformer
)

func (k BranchKind) String() string {
	if k == KindTransformer {
		return "TRANSFORMER"
	}
	return "LINE"
}

// Branch 支路（π 型等值，理想变压器在 1 端）
type Branch struct {
	Num        int
	ID         string
	Kind       BranchKind
	Bus1, Bus2 int  // 两端母线
	Connected1 bool // 1 端连接
	Connected2 bool // 2 端连接

	R, X   float64 // 串联阻抗(pu)
	G1, B1 float64 // 1 端并联导纳(pu)
	G2, B2 float64 // 2 端并联导纳(pu)

	NominalRatio float64 // 额定变比 r1(pu)
	Rho          float64 // 当前变比 r1(pu)
	Alpha        float64 // 当前相移 a1(rad)

	RatioTap *TapChanger // 有载调压分接头
	PhaseTap *TapChanger // 移相分接头

	VoltageControl       *TransformerVoltageControl       // 电压控制
	ReactivePowerControl *TransformerReactivePowerControl // 无功控制
	PhaseControl         *PhaseControl                    // 移相控制

	// 结果（MW / MVar / A），端口断开时为 NaN
	P1, Q1, I1 float64
	P2, Q2, I2 float64
}

// Connected 两端都连接
func (b *Branch) Connected() bool { return b.Connected1 && b.Connected2 }

// BusAt 指定端的母线
func (b *Branch) BusAt(side Side) int {
	if side == Side1 {
		return b.Bus1
	}
	return b.Bus2
}

// ConnectedAt 指定端是否连接
func (b *Branch) ConnectedAt(side Side) bool {
	if side == Side1 {
		return b.Connected1
	}
	return b.Connected2
}

// TapRho 分接头给出的变比(pu)
func (b *Branch) TapRho() float64 {
	rho := b.NominalRatio
	if b.RatioTap != nil {
		rho *= b.RatioTap.Step().Rho
	}
	if b.PhaseTap != nil {
		rho *= b.PhaseTap.Step().Rho
	}
	return rho
}

// TapAlpha 分接头给出的相移(rad)
func (b *Branch) TapAlpha() float64 {
	if b.PhaseTap != nil {
		return b.PhaseTap.Step().Alpha
	}
	return 0
}

// ApplyTaps 按分接头位置刷新 Rho/Alpha
func (b *Branch) ApplyTaps() {
	b.Rho = b.TapRho()
	b.Alpha = b.TapAlpha()
}

// TapStep 分接头档位
type TapStep struct {
	Rho   float64 // 变比系数
	Alpha float64 // 相移(rad)
}

// TapChanger 分接头
type TapChanger struct {
	LowPosition     int       // 最低档位号
	Steps           []TapStep // 档位表
	Position        int       // 当前档位（求解结果）
	InitialPosition int       // 请求档位（下一次计算的起点）
}

// HighPosition 最高档位号
func (t *TapChanger) HighPosition() int { return t.LowPosition + len(t.Steps) - 1 }

// Step 当前档位数据
func (t *TapChanger) Step() TapStep { return t.Steps[t.Position-t.LowPosition] }

// StepAt 指定档位数据
func (t *TapChanger) StepAt(position int) TapStep { return t.Steps[position-t.LowPosition] }

// InRange 档位是否有效
func (t *TapChanger) InRange(position int) bool {
	return position >= t.LowPosition && position <= t.HighPosition()
}

// NearestRho 与给定变比系数最接近的档位
func (t *TapChanger) NearestRho(rho float64) int {
	return t.nearest(func(s TapStep) float64 { return s.Rho - rho })
}

// NearestAlpha 与给定相移最接近的档位
func (t *TapChanger) NearestAlpha(alpha float64) int {
	return t.nearest(func(s TapStep) float64 { return s.Alpha - alpha })
}

func (t *TapChanger) nearest(dist func(TapStep) float64) int {
	best, bestDist := t.Position, -1.0
	for i, s := range t.Steps {
		d := dist(s)
		if d < 0 {
			d = -d
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = t.LowPosition+i, d
		}
	}
	return best
}

// TransformerVoltageControl 变压器电压控制
type TransformerVoltageControl struct {
	Enabled      bool    // 调节投入
	RegulatedBus int     // 被控母线
	TargetV      float64 // 目标电压(pu)
	Deadband     float64 // 死区全宽(pu)
	Active       bool    // 连续变量投入（运行状态）
}

// TransformerReactivePowerControl 变压器无功控制
type TransformerReactivePowerControl struct {
	Enabled         bool
	RegulatedBranch string  // 被控支路
	Side            Side    // 被控端
	TargetQ         float64 // 目标无功(pu)
	Deadband        float64 // 死区全宽(pu)
	Active          bool
}

// PhaseControl 移相器控制
type PhaseControl struct {
	Mode            types.PhaseRegulationMode
	Enabled         bool
	RegulatedBranch string  // 被控支路
	Side            Side    // 被控端
	Target          float64 // 有功控制为 pu，限流控制为 A
	Deadband        float64 // 同 Target 单位
	Active          bool
}

// Generator 发电机
type Generator struct {
	Num       int
	ID        string
	Bus       int
	Connected bool

	TargetP, MinP, MaxP float64 // pu
	TargetQ, MinQ, MaxQ float64 // pu

	VoltageRegulatorOn bool
	RegulatedBus       int     // 被控母线
	TargetV            float64 // 目标电压(pu)
	Slope              float64 // 无功下垂 dV/dQ(pu)，0 表示无

	Participating       bool    // 参与不平衡功率分配
	ParticipationFactor float64 // 参与因子
	Droop               float64 // 调差系数(%)

	P, Q float64 // 结果(pu)
}

// Load 负荷
type Load struct {
	Num           int
	ID            string
	Bus           int
	Connected     bool
	P0, Q0        float64 // 初始功率(pu)
	P, Q          float64 // 当前功率(pu)，按负荷分配时改变 P
	Participating bool
}

// ShuntVoltageControl 并联补偿电压控制
type ShuntVoltageControl struct {
	Enabled      bool
	RegulatedBus int
	TargetV      float64 // pu
	Deadband     float64 // pu
	Active       bool
}

// Shunt 分组投切并联补偿
type Shunt struct {
	Num                 int
	ID                  string
	Bus                 int
	Connected           bool
	G                   float64 // 电导(pu)
	BPerSection         float64 // 每组电纳(pu)
	SectionCount        int     // 当前投入组数（求解结果）
	InitialSectionCount int     // 请求组数
	MaxSectionCount     int
	B                   float64 // 当前电纳(pu)，连续控制时为变量
	VoltageControl      *ShuntVoltageControl
}

// SectionB 指定组数的电纳
func (s *Shunt) SectionB(sections int) float64 { return float64(sections) * s.BPerSection }

// Boundary 区域边界（支路端在区域内侧）
type Boundary struct {
	Branch int
	Side   Side
}

// Area 区域
type Area struct {
	Num        int
	ID         string
	Buses      []int
	Boundaries []Boundary
	Target     float64 // 交换功率目标(pu)，输出为正

	Interchange float64 // 结果(pu)
	Excluded    bool    // 边界不完整，本次计算不参与控制
}

// Network 电网
type Network struct {
	PerUnit
	Buses      []*Bus
	Branches   []*Branch
	Generators []*Generator
	Loads      []*Load
	Shunts     []*Shunt
	Areas      []*Area

	busIndex    map[string]int
	branchIndex map[string]int
	ids         map[string]struct{}
}

// New 创建电网，baseMVA 为基准容量
func New(baseMVA float64) *Network {
	if baseMVA <= 0 {
		baseMVA = types.DefaultBaseMVA
	}
	return &Network{
		PerUnit:     PerUnit{BaseMVA: baseMVA},
		busIndex:    make(map[string]int),
		branchIndex: make(map[string]int),
		ids:         make(map[string]struct{}),
	}
}

// BusIndex 按名称查找母线
func (n *Network) BusIndex(id string) (int, error) {
	if i, ok := n.busIndex[id]; ok {
		return i, nil
	}
	return -1, fmt.Errorf("%w: %q", ErrUnknownBus, id)
}

// BranchIndex 按名称查找支路
func (n *Network) BranchIndex(id string) (int, error) {
	if i, ok := n.branchIndex[id]; ok {
		return i, nil
	}
	return -1, fmt.Errorf("%w: %q", ErrUnknownBranch, id)
}

// Bus 按名称获取母线，不存在返回 nil
func (n *Network) Bus(id string) *Bus {
	if i, ok := n.busIndex[id]; ok {
		return n.Buses[i]
	}
	return nil
}

// Branch 按名称获取支路，不存在返回 nil
func (n *Network) Branch(id string) *Branch {
	if i, ok := n.branchIndex[id]; ok {
		return n.Branches[i]
	}
	return nil
}

// Generator 按名称获取发电机
func (n *Network) Generator(id string) *Generator {
	for _, g := range n.Generators {
		if g.ID == id {
			return g
		}
	}
	return nil
}

// Shunt 按名称获取并联补偿
func (n *Network) Shunt(id string) *Shunt {
	for _, s := range n.Shunts {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Area 按名称获取区域
func (n *Network) Area(id string) *Area {
	for _, a := range n.Areas {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// BranchConnectedAt 支路在 bus 上连接的端口，未连接返回 false
func (n *Network) BranchConnectedAt(br *Branch, bus int) (Side, bool) {
	switch {
	case br.Connected1 && br.Bus1 == bus:
		return Side1, true
	case br.Connected2 && br.Bus2 == bus:
		return Side2, true
	}
	return 0, false
}

// BranchComponent 支路所属连通分量（取任一连接端），两端断开返回 -1
func (n *Network) BranchComponent(br *Branch) int {
	switch {
	case br.Connected1:
		return n.Buses[br.Bus1].Component
	case br.Connected2:
		return n.Buses[br.Bus2].Component
	}
	return -1
}

// ResetTaps 将分接头与并联补偿恢复到请求位置
func (n *Network) ResetTaps() {
	for _, br := range n.Branches {
		if br.RatioTap != nil {
			br.RatioTap.Position = br.RatioTap.InitialPosition
		}
		if br.PhaseTap != nil {
			br.PhaseTap.Position = br.PhaseTap.InitialPosition
		}
		br.ApplyTaps()
	}
	for _, sh := range n.Shunts {
		sh.SectionCount = sh.InitialSectionCount
		sh.B = sh.SectionB(sh.SectionCount)
	}
}

// SeedTaps 以求解档位作为下一次计算的请求档位
func (n *Network) SeedTaps(component int) {
	for _, br := range n.Branches {
		if n.BranchComponent(br) != component {
			continue
		}
		if br.RatioTap != nil {
			br.RatioTap.InitialPosition = br.RatioTap.Position
		}
		if br.PhaseTap != nil {
			br.PhaseTap.InitialPosition = br.PhaseTap.Position
		}
	}
	for _, sh := range n.Shunts {
		if n.Buses[sh.Bus].Component == component {
			sh.InitialSectionCount = sh.SectionCount
		}
	}
}
