package network

import (
	"fmt"
	"math"

	"loadflow/types"
)

// 构建接口使用物理单位：电压 kV，功率 MW/MVar，阻抗 Ω，导纳 S，角度 度。

// LineSpec 线路参数，阻抗与导纳按 2 端额定电压折算
type LineSpec struct {
	ID, Bus1, Bus2 string
	R, X           float64 // Ω
	G1, B1, G2, B2 float64 // S
	Open1, Open2   bool
}

// TransformerSpec 双绕组变压器参数，R/X/G/B 归算到 2 端
type TransformerSpec struct {
	ID, Bus1, Bus2   string
	RatedU1, RatedU2 float64 // kV
	R, X             float64 // Ω
	G, B             float64 // S
	Open1, Open2     bool
}

// RatioTapSpec 有载调压分接头
type RatioTapSpec struct {
	LowPosition int
	Position    int
	Rhos        []float64 // 每档变比系数

	Regulating     bool
	RegulatedBus   string  // 空表示 2 端母线
	TargetV        float64 // kV
	TargetDeadband float64 // kV

	ReactivePower *ReactivePowerSpec
}

// ReactivePowerSpec 变压器无功控制
type ReactivePowerSpec struct {
	Regulating      bool
	RegulatedBranch string // 空表示自身
	Side            Side
	TargetQ         float64 // MVar
	Deadband        float64 // MVar
}

// PhaseTapSpec 移相分接头
type PhaseTapSpec struct {
	LowPosition int
	Position    int
	Alphas      []float64 // 每档相移(度)
	Rhos        []float64 // 每档变比系数，空表示 1

	Mode            types.PhaseRegulationMode
	Regulating      bool
	RegulatedBranch string // 空表示自身
	Side            Side
	Target          float64 // MW 或 A
	Deadband        float64
}

// GeneratorSpec 发电机
type GeneratorSpec struct {
	ID, Bus             string
	TargetP, MinP, MaxP float64 // MW
	TargetQ, MinQ, MaxQ float64 // MVar

	VoltageRegulatorOn bool
	TargetV            float64 // kV
	RegulatedBus       string  // 空表示本母线
	Slope              float64 // kV/MVar

	Fixed               bool // 不参与功率分配
	ParticipationFactor float64
	Droop               float64
	Disconnected        bool
}

// LoadSpec 负荷
type LoadSpec struct {
	ID, Bus      string
	P, Q         float64 // MW, MVar
	Fixed        bool
	Disconnected bool
}

// ShuntSpec 分组并联补偿
type ShuntSpec struct {
	ID, Bus         string
	G               float64 // S
	BPerSection     float64 // S
	SectionCount    int
	MaxSectionCount int

	Regulating     bool
	RegulatedBus   string // 空表示本母线
	TargetV        float64
	TargetDeadband float64
	Disconnected   bool
}

// AreaSpec 区域
type AreaSpec struct {
	ID         string
	Target     float64 // MW，输出为正
	Buses      []string
	Boundaries []BoundarySpec
}

// BoundarySpec 区域边界
type BoundarySpec struct {
	Branch string
	Side   Side
}

// claim 登记设备名称
func (n *Network) claim(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidValue)
	}
	if _, ok := n.ids[id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateID, id)
	}
	n.ids[id] = struct{}{}
	return nil
}

// AddBus 添加母线
func (n *Network) AddBus(id string, nominalKV float64) (*Bus, error) {
	if !(nominalKV > 0) {
		return nil, fmt.Errorf("%w: bus %q nominal voltage %v", ErrInvalidValue, id, nominalKV)
	}
	if err := n.claim(id); err != nil {
		return nil, err
	}
	b := &Bus{Num: len(n.Buses), ID: id, NominalV: nominalKV, V: 1, Component: -1, Area: -1}
	n.busIndex[id] = b.Num
	n.Buses = append(n.Buses, b)
	return b, nil
}

// addBranch 公共支路登记
func (n *Network) addBranch(id, bus1, bus2 string, open1, open2 bool) (*Branch, error) {
	i1, err := n.BusIndex(bus1)
	if err != nil {
		return nil, fmt.Errorf("branch %q: %w", id, err)
	}
	i2, err := n.BusIndex(bus2)
	if err != nil {
		return nil, fmt.Errorf("branch %q: %w", id, err)
	}
	if err := n.claim(id); err != nil {
		return nil, err
	}
	br := &Branch{
		Num: len(n.Branches), ID: id,
		Bus1: i1, Bus2: i2,
		Connected1: !open1, Connected2: !open2,
	}
	n.branchIndex[id] = br.Num
	n.Branches = append(n.Branches, br)
	return br, nil
}

// AddLine 添加线路
func (n *Network) AddLine(spec LineSpec) (*Branch, error) {
	br, err := n.addBranch(spec.ID, spec.Bus1, spec.Bus2, spec.Open1, spec.Open2)
	if err != nil {
		return nil, err
	}
	nom1, nom2 := n.Buses[br.Bus1].NominalV, n.Buses[br.Bus2].NominalV
	br.Kind = KindLine
	br.R, br.X = n.Impedance(spec.R, nom2), n.Impedance(spec.X, nom2)
	br.G1, br.B1 = n.Admittance(spec.G1, nom2), n.Admittance(spec.B1, nom2)
	br.G2, br.B2 = n.Admittance(spec.G2, nom2), n.Admittance(spec.B2, nom2)
	br.NominalRatio = nom1 / nom2
	br.ApplyTaps()
	return br, nil
}

// AddTransformer 添加双绕组变压器，励磁导纳放在理想变压器后的 1 端
func (n *Network) AddTransformer(spec TransformerSpec) (*Branch, error) {
	if !(spec.RatedU1 > 0) || !(spec.RatedU2 > 0) {
		return nil, fmt.Errorf("%w: transformer %q rated voltage", ErrInvalidValue, spec.ID)
	}
	br, err := n.addBranch(spec.ID, spec.Bus1, spec.Bus2, spec.Open1, spec.Open2)
	if err != nil {
		return nil, err
	}
	nom1, nom2 := n.Buses[br.Bus1].NominalV, n.Buses[br.Bus2].NominalV
	br.Kind = KindTransformer
	br.R, br.X = n.Impedance(spec.R, nom2), n.Impedance(spec.X, nom2)
	br.G1, br.B1 = n.Admittance(spec.G, nom2), n.Admittance(spec.B, nom2)
	br.NominalRatio = spec.RatedU2 / spec.RatedU1 * nom1 / nom2
	br.ApplyTaps()
	return br, nil
}

// AttachRatioTap 为变压器挂接有载调压分接头
func (n *Network) AttachRatioTap(branchID string, spec RatioTapSpec) error {
	br := n.Branch(branchID)
	if br == nil {
		return fmt.Errorf("%w: %q", ErrUnknownBranch, branchID)
	}
	if br.Kind != KindTransformer {
		return fmt.Errorf("%w: %q is not a transformer", ErrInvalidValue, branchID)
	}
	steps := make([]TapStep, len(spec.Rhos))
	for i, rho := range spec.Rhos {
		steps[i] = TapStep{Rho: rho}
	}
	tap, err := newTapChanger(branchID, spec.LowPosition, spec.Position, steps)
	if err != nil {
		return err
	}
	br.RatioTap = tap
	regulated := br.Bus2
	if spec.RegulatedBus != "" {
		if regulated, err = n.BusIndex(spec.RegulatedBus); err != nil {
			return fmt.Errorf("ratio tap %q: %w", branchID, err)
		}
	}
	nom := n.Buses[regulated].NominalV
	br.VoltageControl = &TransformerVoltageControl{
		Enabled:      spec.Regulating,
		RegulatedBus: regulated,
		TargetV:      n.Voltage(spec.TargetV, nom),
		Deadband:     n.Voltage(spec.TargetDeadband, nom),
	}
	if rp := spec.ReactivePower; rp != nil {
		side := rp.Side
		if side == 0 {
			side = Side1
		}
		target := rp.RegulatedBranch
		if target == "" {
			target = branchID
		}
		br.ReactivePowerControl = &TransformerReactivePowerControl{
			Enabled:         rp.Regulating,
			RegulatedBranch: target,
			Side:            side,
			TargetQ:         n.Power(rp.TargetQ),
			Deadband:        n.Power(rp.Deadband),
		}
	}
	br.ApplyTaps()
	return nil
}

// AttachPhaseTap 为变压器挂接移相分接头
func (n *Network) AttachPhaseTap(branchID string, spec PhaseTapSpec) error {
	br := n.Branch(branchID)
	if br == nil {
		return fmt.Errorf("%w: %q", ErrUnknownBranch, branchID)
	}
	if br.Kind != KindTransformer {
		return fmt.Errorf("%w: %q is not a transformer", ErrInvalidValue, branchID)
	}
	if len(spec.Rhos) > 0 && len(spec.Rhos) != len(spec.Alphas) {
		return fmt.Errorf("%w: phase tap %q has %d alphas and %d rhos", ErrInvalidValue, branchID, len(spec.Alphas), len(spec.Rhos))
	}
	steps := make([]TapStep, len(spec.Alphas))
	for i, a := range spec.Alphas {
		steps[i] = TapStep{Rho: 1, Alpha: a * math.Pi / 180}
		if len(spec.Rhos) > 0 {
			steps[i].Rho = spec.Rhos[i]
		}
	}
	tap, err := newTapChanger(branchID, spec.LowPosition, spec.Position, steps)
	if err != nil {
		return err
	}
	br.PhaseTap = tap
	side := spec.Side
	if side == 0 {
		side = Side1
	}
	target := spec.RegulatedBranch
	if target == "" {
		target = branchID
	}
	pc := &PhaseControl{
		Mode:            spec.Mode,
		Enabled:         spec.Regulating,
		RegulatedBranch: target,
		Side:            side,
		Target:          spec.Target,
		Deadband:        spec.Deadband,
	}
	if spec.Mode == types.PhaseActivePowerControl {
		pc.Target, pc.Deadband = n.Power(spec.Target), n.Power(spec.Deadband)
	}
	br.PhaseControl = pc
	br.ApplyTaps()
	return nil
}

func newTapChanger(id string, low, position int, steps []TapStep) (*TapChanger, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: tap changer %q has no steps", ErrInvalidValue, id)
	}
	tap := &TapChanger{LowPosition: low, Steps: steps, Position: position, InitialPosition: position}
	if !tap.InRange(position) {
		return nil, fmt.Errorf("%w: tap changer %q position %d outside [%d, %d]", ErrInvalidValue, id, position, low, tap.HighPosition())
	}
	return tap, nil
}

// AddGenerator 添加发电机
func (n *Network) AddGenerator(spec GeneratorSpec) (*Generator, error) {
	bus, err := n.BusIndex(spec.Bus)
	if err != nil {
		return nil, fmt.Errorf("generator %q: %w", spec.ID, err)
	}
	regulated := bus
	if spec.RegulatedBus != "" {
		if regulated, err = n.BusIndex(spec.RegulatedBus); err != nil {
			return nil, fmt.Errorf("generator %q: %w", spec.ID, err)
		}
	}
	if spec.MinP > spec.MaxP || spec.MinQ > spec.MaxQ {
		return nil, fmt.Errorf("%w: generator %q limits", ErrInvalidValue, spec.ID)
	}
	if err := n.claim(spec.ID); err != nil {
		return nil, err
	}
	nom := n.Buses[regulated].NominalV
	g := &Generator{
		Num: len(n.Generators), ID: spec.ID, Bus: bus, Connected: !spec.Disconnected,
		TargetP: n.Power(spec.TargetP), MinP: n.Power(spec.MinP), MaxP: n.Power(spec.MaxP),
		TargetQ: n.Power(spec.TargetQ), MinQ: n.Power(spec.MinQ), MaxQ: n.Power(spec.MaxQ),
		VoltageRegulatorOn:  spec.VoltageRegulatorOn,
		RegulatedBus:        regulated,
		TargetV:             n.Voltage(spec.TargetV, nom),
		Slope:               spec.Slope * n.BaseMVA / nom,
		Participating:       !spec.Fixed,
		ParticipationFactor: spec.ParticipationFactor,
		Droop:               spec.Droop,
	}
	n.Generators = append(n.Generators, g)
	return g, nil
}

// AddLoad 添加负荷
func (n *Network) AddLoad(spec LoadSpec) (*Load, error) {
	bus, err := n.BusIndex(spec.Bus)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", spec.ID, err)
	}
	if err := n.claim(spec.ID); err != nil {
		return nil, err
	}
	l := &Load{
		Num: len(n.Loads), ID: spec.ID, Bus: bus, Connected: !spec.Disconnected,
		P0: n.Power(spec.P), Q0: n.Power(spec.Q),
		Participating: !spec.Fixed,
	}
	l.P, l.Q = l.P0, l.Q0
	n.Loads = append(n.Loads, l)
	return l, nil
}

// AddShunt 添加并联补偿
func (n *Network) AddShunt(spec ShuntSpec) (*Shunt, error) {
	bus, err := n.BusIndex(spec.Bus)
	if err != nil {
		return nil, fmt.Errorf("shunt %q: %w", spec.ID, err)
	}
	regulated := bus
	if spec.RegulatedBus != "" {
		if regulated, err = n.BusIndex(spec.RegulatedBus); err != nil {
			return nil, fmt.Errorf("shunt %q: %w", spec.ID, err)
		}
	}
	if spec.SectionCount < 0 || spec.SectionCount > spec.MaxSectionCount {
		return nil, fmt.Errorf("%w: shunt %q section count %d", ErrInvalidValue, spec.ID, spec.SectionCount)
	}
	if err := n.claim(spec.ID); err != nil {
		return nil, err
	}
	nom := n.Buses[bus].NominalV
	rnom := n.Buses[regulated].NominalV
	sh := &Shunt{
		Num: len(n.Shunts), ID: spec.ID, Bus: bus, Connected: !spec.Disconnected,
		G:                   n.Admittance(spec.G, nom),
		BPerSection:         n.Admittance(spec.BPerSection, nom),
		SectionCount:        spec.SectionCount,
		InitialSectionCount: spec.SectionCount,
		MaxSectionCount:     spec.MaxSectionCount,
		VoltageControl: &ShuntVoltageControl{
			Enabled:      spec.Regulating,
			RegulatedBus: regulated,
			TargetV:      n.Voltage(spec.TargetV, rnom),
			Deadband:     n.Voltage(spec.TargetDeadband, rnom),
		},
	}
	sh.B = sh.SectionB(sh.SectionCount)
	n.Shunts = append(n.Shunts, sh)
	return sh, nil
}

// AddArea 添加区域
func (n *Network) AddArea(spec AreaSpec) (*Area, error) {
	if err := n.claim(spec.ID); err != nil {
		return nil, err
	}
	a := &Area{Num: len(n.Areas), ID: spec.ID, Target: n.Power(spec.Target)}
	for _, id := range spec.Buses {
		i, err := n.BusIndex(id)
		if err != nil {
			return nil, fmt.Errorf("area %q: %w", spec.ID, err)
		}
		if n.Buses[i].Area >= 0 {
			return nil, fmt.Errorf("%w: bus %q already in area %q", ErrInvalidValue, id, n.Areas[n.Buses[i].Area].ID)
		}
		a.Buses = append(a.Buses, i)
	}
	for _, bs := range spec.Boundaries {
		i, err := n.BranchIndex(bs.Branch)
		if err != nil {
			return nil, fmt.Errorf("area %q: %w", spec.ID, err)
		}
		side := bs.Side
		if side != Side1 && side != Side2 {
			return nil, fmt.Errorf("%w: area %q boundary side %d", ErrInvalidValue, spec.ID, side)
		}
		a.Boundaries = append(a.Boundaries, Boundary{Branch: i, Side: side})
	}
	for _, b := range a.Buses {
		n.Buses[b].Area = a.Num
	}
	n.Areas = append(n.Areas, a)
	return a, nil
}
