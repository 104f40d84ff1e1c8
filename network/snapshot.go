package network

// Snapshot 电网全部可变状态的副本
//
// 覆盖母线电压与控制状态、支路变比/相移/档位/控制投入与结果、
// 注入设备功率、并联补偿组数以及区域交换功率。拓扑与参数不在其中。
type Snapshot struct {
	buses    []Bus
	branches []branchState
	gens     []Generator
	loads    []Load
	shunts   []shuntState
	areas    []Area
}

type branchState struct {
	branch   Branch
	ratio    TapChanger
	phase    TapChanger
	voltage  TransformerVoltageControl
	reactive TransformerReactivePowerControl
	control  PhaseControl
}

type shuntState struct {
	shunt   Shunt
	control ShuntVoltageControl
}

// Snapshot 保存当前状态
func (n *Network) Snapshot() *Snapshot {
	s := &Snapshot{
		buses:    make([]Bus, len(n.Buses)),
		branches: make([]branchState, len(n.Branches)),
		gens:     make([]Generator, len(n.Generators)),
		loads:    make([]Load, len(n.Loads)),
		shunts:   make([]shuntState, len(n.Shunts)),
		areas:    make([]Area, len(n.Areas)),
	}
	for i, b := range n.Buses {
		s.buses[i] = *b
	}
	for i, br := range n.Branches {
		st := &s.branches[i]
		st.branch = *br
		if br.RatioTap != nil {
			st.ratio = *br.RatioTap
		}
		if br.PhaseTap != nil {
			st.phase = *br.PhaseTap
		}
		if br.VoltageControl != nil {
			st.voltage = *br.VoltageControl
		}
		if br.ReactivePowerControl != nil {
			st.reactive = *br.ReactivePowerControl
		}
		if br.PhaseControl != nil {
			st.control = *br.PhaseControl
		}
	}
	for i, g := range n.Generators {
		s.gens[i] = *g
	}
	for i, l := range n.Loads {
		s.loads[i] = *l
	}
	for i, sh := range n.Shunts {
		s.shunts[i].shunt = *sh
		if sh.VoltageControl != nil {
			s.shunts[i].control = *sh.VoltageControl
		}
	}
	for i, a := range n.Areas {
		s.areas[i] = *a
	}
	return s
}

// Restore 恢复到快照时的状态
//
// 快照之后新增的设备保持不变。
func (n *Network) Restore(s *Snapshot) {
	for i := range s.buses {
		*n.Buses[i] = s.buses[i]
	}
	for i := range s.branches {
		st := &s.branches[i]
		br := n.Branches[i]
		*br = st.branch
		if br.RatioTap != nil {
			*br.RatioTap = st.ratio
		}
		if br.PhaseTap != nil {
			*br.PhaseTap = st.phase
		}
		if br.VoltageControl != nil {
			*br.VoltageControl = st.voltage
		}
		if br.ReactivePowerControl != nil {
			*br.ReactivePowerControl = st.reactive
		}
		if br.PhaseControl != nil {
			*br.PhaseControl = st.control
		}
	}
	for i := range s.gens {
		*n.Generators[i] = s.gens[i]
	}
	for i := range s.loads {
		*n.Loads[i] = s.loads[i]
	}
	for i := range s.shunts {
		sh := n.Shunts[i]
		*sh = s.shunts[i].shunt
		if sh.VoltageControl != nil {
			*sh.VoltageControl = s.shunts[i].control
		}
	}
	for i := range s.areas {
		*n.Areas[i] = s.areas[i]
	}
}
