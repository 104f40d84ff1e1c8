package outerloop

import (
	"math"
	"slices"

	"loadflow/types"
)

// DistributedSlack 平衡节点有功残差分配到参与机组（或负荷）
type DistributedSlack struct{}

func (*DistributedSlack) Name() string { return "distributed slack" }

func (*DistributedSlack) Initialize(*Context) {}

func (*DistributedSlack) Check(c *Context) (types.OuterLoopStatus, error) {
	s, net := c.System, c.Network
	eps := c.Params.SlackBusPMaxMismatch / net.BaseMVA
	m := s.SlackMismatch()
	if math.Abs(m) <= eps {
		return types.OuterLoopStable, nil
	}
	done := distributeActivePower(c, s.Generators, s.Loads, m)
	c.DistributedP += done
	moved := done != 0
	if moved {
		c.Logger.Debug("slack mismatch distributed", "mismatch", net.MW(m), "distributed", net.MW(done))
	}
	if remaining := m - done; math.Abs(remaining) > eps {
		return failure(c, "slack bus", remaining, moved)
	}
	return types.OuterLoopUnstable, nil
}

// AreaInterchange 区域交换功率控制
//
// 每个区域的发电增量为 目标 - 实际交换功率，平衡节点所在区域再加上平衡节点
// 残差；平衡节点不在任何区域时残差由区域外的机组承担。
type AreaInterchange struct{}

func (*AreaInterchange) Name() string { return "area interchange control" }

func (*AreaInterchange) Initialize(*Context) {}

func (*AreaInterchange) Check(c *Context) (types.OuterLoopStatus, error) {
	s, net := c.System, c.Network
	epsArea := c.Params.AreaInterchangePMaxMismatch / net.BaseMVA
	epsSlack := c.Params.SlackBusPMaxMismatch / net.BaseMVA
	m := s.SlackMismatch()

	slackArea := net.Buses[s.Slack].Area
	if !slices.Contains(s.Areas, slackArea) {
		slackArea = -1
	}
	gens, loads := make(map[int][]int), make(map[int][]int)
	for _, gi := range s.Generators {
		a := net.Buses[net.Generators[gi].Bus].Area
		if !slices.Contains(s.Areas, a) {
			a = -1
		}
		gens[a] = append(gens[a], gi)
	}
	for _, li := range s.Loads {
		a := net.Buses[net.Loads[li].Bus].Area
		if !slices.Contains(s.Areas, a) {
			a = -1
		}
		loads[a] = append(loads[a], li)
	}

	moved := false
	remaining, areasDone := 0.0, 0.0
	for _, a := range s.Areas {
		area := net.Areas[a]
		e := area.Target - s.Interchange(a)
		amount := e
		if a == slackArea {
			if math.Abs(e) <= epsArea && math.Abs(m) <= epsSlack {
				continue
			}
			amount += m
		} else if math.Abs(e) <= epsArea {
			continue
		}
		done := distributeActivePower(c, gens[a], loads[a], amount)
		areasDone += done
		if done != 0 {
			moved = true
			c.Logger.Debug("interchange mismatch distributed", "area", area.ID, "mismatch", net.MW(amount), "distributed", net.MW(done))
		}
		if r := amount - done; math.Abs(r) > epsArea {
			c.Logger.Debug("area cannot reach interchange target", "area", area.ID, "remaining", net.MW(r))
			remaining += r
		}
	}
	if slackArea < 0 {
		if rest := m - areasDone; math.Abs(rest) > epsSlack {
			done := distributeActivePower(c, gens[-1], loads[-1], rest)
			areasDone += done
			moved = moved || done != 0
			if r := rest - done; math.Abs(r) > epsSlack {
				remaining += r
			}
		}
	}
	c.DistributedP += areasDone
	if remaining != 0 {
		return failure(c, "interchange", remaining, moved)
	}
	if moved {
		return types.OuterLoopUnstable, nil
	}
	return types.OuterLoopStable, nil
}
