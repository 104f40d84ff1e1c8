package equation

import (
	"fmt"
	"strings"

	"loadflow/network"
)

// GeneratorGroup 控制同一母线电压的发电机
type GeneratorGroup struct {
	Controlled  int     // 被控母线
	Controllers []int   // 控制母线（升序）
	Generators  []int   // 参与调压的发电机
	TargetV     float64 // 目标电压(pu)
	Slope       float64 // 无功调差(pu/pu)，仅单机本地调压
}

// Local 是否为本地调压
func (g *GeneratorGroup) Local() bool {
	return len(g.Controllers) == 1 && g.Controllers[0] == g.Controlled
}

// TransformerGroup 控制同一母线电压的变压器
type TransformerGroup struct {
	Controlled int
	Branches   []int
	TargetV    float64
	Deadband   float64
}

// ShuntGroup 控制同一母线电压的并联补偿
type ShuntGroup struct {
	Controlled int
	Shunts     []int
	TargetV    float64
	Deadband   float64
}

// FlowControl 支路潮流控制：Branch 调节 Regulated 支路 Side 端的功率或电流
type FlowControl struct {
	Branch    int
	Regulated int
	Side      network.Side
}

// ConsistencyError 控制目标相互矛盾，计算前即终止
type ConsistencyError struct {
	Bus         string    // 被控母线
	Reason      string    // 矛盾类型
	Controllers []string  // 相关控制设备
	Values      []float64 // 各设备目标值(kV)
}

func (e *ConsistencyError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "equation: inconsistent voltage control of bus %s: %s", e.Bus, e.Reason)
	for i, c := range e.Controllers {
		if i == 0 {
			sb.WriteString(" (")
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(c)
		if i < len(e.Values) {
			fmt.Fprintf(&sb, "=%.4g kV", e.Values[i])
		}
	}
	if len(e.Controllers) > 0 {
		sb.WriteByte(')')
	}
	return sb.String()
}
