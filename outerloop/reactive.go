package outerloop

import (
	"loadflow/equation"
	"loadflow/network"
	"loadflow/types"
)

// ReactiveLimits 发电机无功越限 PV/PQ 转换
//
// 控制母线无功越限时转为 PQ 并把无功固定在越限值；PQ 母线只有在被控电压回到
// 目标值另一侧时才恢复 PV，恢复次数受 MaxPqPvSwitch 限制。恢复 PV 后又在同一
// 限值越限的母线锁定为 PQ，不再恢复。
type ReactiveLimits struct {
	released map[int]network.Limit // 母线 -> 最近一次恢复 PV 前所处的限值
}

func (*ReactiveLimits) Name() string { return "reactive limits" }

func (rl *ReactiveLimits) Initialize(*Context) { rl.released = nil }

func (rl *ReactiveLimits) Check(c *Context) (types.OuterLoopStatus, error) {
	s, net := c.System, c.Network
	eps := s.Epsilon(equation.ClassReactivePower)
	status := types.OuterLoopStable
	for _, g := range s.GeneratorGroups {
		for _, b := range g.Controllers {
			bus := net.Buses[b]
			qmin, qmax := s.ReactiveRange(b)
			if bus.VoltageControlOn {
				q := s.ReactiveGeneration(b)
				limit := network.LimitNone
				switch {
				case q > qmax+eps:
					limit = network.LimitMax
				case q < qmin-eps:
					limit = network.LimitMin
				}
				if limit == network.LimitNone {
					continue
				}
				bus.VoltageControlOn = false
				bus.QLimit = limit
				status = types.OuterLoopUnstable
				c.Logger.Debug("pv to pq", "bus", bus.ID, "q", net.MW(q), "qmin", net.MW(qmin), "qmax", net.MW(qmax))
				if rl.released[b] == limit {
					bus.PqPvSwitches = max(bus.PqPvSwitches, c.Params.MaxPqPvSwitch)
					c.Logger.Debug("pq bus locked", "bus", bus.ID, "limit", limit)
				}
				delete(rl.released, b)
				continue
			}
			if bus.QLimit == network.LimitNone || bus.PqPvSwitches >= c.Params.MaxPqPvSwitch {
				continue
			}
			v := net.Buses[g.Controlled].V
			if (bus.QLimit == network.LimitMax && v > g.TargetV) || (bus.QLimit == network.LimitMin && v < g.TargetV) {
				if rl.released == nil {
					rl.released = make(map[int]network.Limit)
				}
				rl.released[b] = bus.QLimit
				bus.VoltageControlOn = true
				bus.QLimit = network.LimitNone
				bus.PqPvSwitches++
				status = types.OuterLoopUnstable
				c.Logger.Debug("pq to pv", "bus", bus.ID, "v", v, "target", g.TargetV, "switches", bus.PqPvSwitches)
			}
		}
	}
	return status, nil
}
