package outerloop

import (
	"fmt"
	"math"

	"loadflow/network"
	"loadflow/types"
)

// participant 参与有功分配的设备
type participant struct {
	value    *float64
	min, max float64
	key      float64
}

// participants 按分配方式收集设备；按负荷分配时 amount 需取反后使用
func participants(c *Context, gens, loads []int, amount float64) []*participant {
	net := c.Network
	var out []*participant
	if c.Params.BalanceType == types.BalanceProportionalToLoad {
		for _, li := range loads {
			l := net.Loads[li]
			if !l.Participating || l.P <= 0 {
				continue
			}
			out = append(out, &participant{value: &l.P, min: 0, max: math.Inf(1), key: l.P})
		}
		return out
	}
	for _, gi := range gens {
		g := net.Generators[gi]
		if !g.Participating || g.MaxP <= g.MinP {
			continue
		}
		var key float64
		switch c.Params.BalanceType {
		case types.BalanceProportionalToPMax:
			key = g.MaxP
		case types.BalanceProportionalToRemainingMargin:
			if amount > 0 {
				key = g.MaxP - g.P
			} else {
				key = g.P - g.MinP
			}
		case types.BalanceProportionalToParticipationFactor:
			key = g.ParticipationFactor
		case types.BalanceProportionalToDroop:
			if g.Droop > 0 {
				key = g.MaxP / g.Droop
			}
		}
		if key > 0 {
			out = append(out, &participant{value: &g.P, min: g.MinP, max: g.MaxP, key: key})
		}
	}
	return out
}

// distribute 按分配系数迭代分配 amount，到限的设备退出，返回实际分配量
func distribute(parts []*participant, amount float64) float64 {
	done := 0.0
	saturated := make([]bool, len(parts))
	for range len(parts) + 1 {
		remaining := amount - done
		if math.Abs(remaining) < 1e-12 {
			break
		}
		total := 0.0
		for i, p := range parts {
			if !saturated[i] {
				total += p.key
			}
		}
		if total == 0 {
			break
		}
		for i, p := range parts {
			if saturated[i] {
				continue
			}
			old := *p.value
			want := old + remaining*p.key/total
			v := want
			// 已越限的设备不被拉回限值内
			if remaining > 0 {
				v = math.Min(want, math.Max(p.max, old))
			} else {
				v = math.Max(want, math.Min(p.min, old))
			}
			if v != want {
				saturated[i] = true
			}
			*p.value = v
			done += v - old
		}
	}
	return done
}

// distributeActivePower 在设备间分配发电增量 amount(pu)
func distributeActivePower(c *Context, gens, loads []int, amount float64) float64 {
	if c.Params.BalanceType == types.BalanceProportionalToLoad {
		return -distribute(participants(c, gens, loads, amount), -amount)
	}
	return distribute(participants(c, gens, loads, amount), amount)
}

// referenceGenerator 参考发电机：指定名称，否则为平衡节点上最大出力上限的发电机
func referenceGenerator(c *Context) *network.Generator {
	net, s := c.Network, c.System
	var best *network.Generator
	for _, gi := range s.Generators {
		g := net.Generators[gi]
		if id := c.Params.ReferenceGeneratorID; id != "" {
			if g.ID == id {
				return g
			}
			continue
		}
		if g.Bus == s.Slack && (best == nil || g.MaxP > best.MaxP) {
			best = g
		}
	}
	return best
}

// failure 按策略处理未能分配的有功 remaining(pu)
func failure(c *Context, what string, remaining float64, moved bool) (types.OuterLoopStatus, error) {
	net := c.Network
	mw := net.MW(remaining)
	switch c.Params.SlackDistributionFailureBehavior {
	case types.FailOnDistribution:
		c.Logger.Warn("active power distribution failed", "kind", what, "remaining", mw)
		return types.OuterLoopFailed, nil
	case types.ThrowOnDistribution:
		return types.OuterLoopFailed, fmt.Errorf("%w: Failed to distribute %s active power mismatch (%.2f MW remaining)",
			types.ErrSlackDistribution, what, mw)
	case types.DistributeOnReferenceGenerator:
		g := referenceGenerator(c)
		if g == nil {
			c.Logger.Warn("no reference generator for remaining mismatch", "kind", what, "remaining", mw)
			return types.OuterLoopFailed, nil
		}
		p := g.P + remaining
		if p < g.MinP || p > g.MaxP {
			c.Logger.Warn("reference generator cannot absorb mismatch", "generator", g.ID, "p", net.MW(p), "remaining", mw)
			return types.OuterLoopFailed, nil
		}
		c.Logger.Info("mismatch put on reference generator", "generator", g.ID, "remaining", mw)
		g.P = p
		c.DistributedP += remaining
		return types.OuterLoopUnstable, nil
	default:
		c.Logger.Warn("active power mismatch left on slack bus", "kind", what, "remaining", mw)
		if moved {
			return types.OuterLoopUnstable, nil
		}
		return types.OuterLoopStable, nil
	}
}
