// Package equation 潮流方程组
//
// 方程与变量都以 (类型, 元件下标) 为键存放在表中，每项带 Active 标志。
// 非激活项不进入残差与雅可比，但仍可按键访问和求值。
// 状态量全部保存在 network.Network 中，System 只负责读写与索引。
package equation

import "fmt"

// VarKind 变量类型
type VarKind int

const (
	VarBusV        VarKind = iota // 母线电压幅值
	VarBusPhi                     // 母线相角
	VarBranchRho                  // 支路变比
	VarBranchAlpha                // 支路相移
	VarShuntB                     // 并联补偿电纳
)

var varKindNames = [...]string{"BUS_V", "BUS_PHI", "BRANCH_RHO", "BRANCH_ALPHA", "SHUNT_B"}

func (k VarKind) String() string {
	if int(k) < len(varKindNames) {
		return varKindNames[k]
	}
	return fmt.Sprintf("VAR(%d)", int(k))
}

// VarKey 变量键
type VarKey struct {
	Kind    VarKind
	Element int
}

func (k VarKey) String() string { return fmt.Sprintf("%s[%d]", k.Kind, k.Element) }

// Kind 方程类型
type Kind int

const (
	BusP                  Kind = iota // 母线有功平衡
	BusQ                              // 母线无功平衡
	BusV                              // 母线电压目标
	BusPhi                            // 参考相角
	BusVSlope                         // 带无功调差的电压目标
	BranchP                           // 支路有功（移相控制）
	BranchQ                           // 支路无功（变压器无功控制）
	BusQDistribution                  // 共同调压的无功分配
	BranchRhoDistribution             // 并列变压器变比分配
	ShuntBDistribution                // 并联补偿电纳分配
	AreaInterchange                   // 区域交换功率
)

var kindNames = [...]string{
	"BUS_P", "BUS_Q", "BUS_V", "BUS_PHI", "BUS_V_SLOPE",
	"BRANCH_P", "BRANCH_Q",
	"BUS_Q_DISTRIBUTION", "BRANCH_RHO_DISTRIBUTION", "SHUNT_B_DISTRIBUTION",
	"AREA_INTERCHANGE",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("EQ(%d)", int(k))
}

// Key 方程键
type Key struct {
	Kind    Kind
	Element int
}

func (k Key) String() string { return fmt.Sprintf("%s[%d]", k.Kind, k.Element) }

// Class 收敛判据分类
type Class int

const (
	ClassActivePower Class = iota
	ClassReactivePower
	ClassVoltage
	ClassAngle
	ClassRatio
	ClassSusceptance
	classCount
)

var classNames = [...]string{"P", "Q", "V", "PHI", "RHO", "B"}

func (c Class) String() string {
	if c >= 0 && c < classCount {
		return classNames[c]
	}
	return fmt.Sprintf("CLASS(%d)", int(c))
}

// Classes 全部分类
func Classes() []Class {
	out := make([]Class, classCount)
	for i := range out {
		out[i] = Class(i)
	}
	return out
}

// Class 方程所属收敛分类
func (k Kind) Class() Class {
	switch k {
	case BusP, BranchP, AreaInterchange:
		return ClassActivePower
	case BusQ, BranchQ, BusQDistribution:
		return ClassReactivePower
	case BusV, BusVSlope:
		return ClassVoltage
	case BusPhi:
		return ClassAngle
	case BranchRhoDistribution:
		return ClassRatio
	default:
		return ClassSusceptance
	}
}
