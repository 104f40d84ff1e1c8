package types

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// enumNames 枚举名称表，下标即枚举值
type enumNames []string

func (n enumNames) name(i int) string {
	if i >= 0 && i < len(n) {
		return n[i]
	}
	return fmt.Sprintf("UNKNOWN(%d)", i)
}

func (n enumNames) parse(kind, s string) (int, error) {
	for i, v := range n {
		if strings.EqualFold(v, strings.TrimSpace(s)) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("types: unknown %s %q", kind, s)
}

// decodeEnum 从 YAML 标量解析枚举
func decodeEnum(value *yaml.Node, kind string, names enumNames) (int, error) {
	var s string
	if err := value.Decode(&s); err != nil {
		return 0, err
	}
	return names.parse(kind, s)
}

// Status 连通分量计算状态
type Status int

const (
	StatusRunning Status = iota
	StatusConverged
	StatusMaxIterationReached
	StatusSolverFailed
	StatusNoCalculation
)

var statusNames = enumNames{"RUNNING", "CONVERGED", "MAX_ITERATION_REACHED", "SOLVER_FAILED", "NO_CALCULATION"}

func (s Status) String() string { return statusNames.name(int(s)) }

// OuterLoopStatus 外循环控制器检查结果
type OuterLoopStatus int

const (
	OuterLoopStable OuterLoopStatus = iota
	OuterLoopUnstable
	OuterLoopFailed
)

var outerLoopStatusNames = enumNames{"STABLE", "UNSTABLE", "FAILED"}

func (s OuterLoopStatus) String() string { return outerLoopStatusNames.name(int(s)) }

// SlackBusSelectionMode 平衡节点选择方式
type SlackBusSelectionMode int

const (
	SlackBusMostMeshed SlackBusSelectionMode = iota
	SlackBusFirst
	SlackBusName
	SlackBusLargestGenerator
)

var slackBusSelectionNames = enumNames{"MOST_MESHED", "FIRST", "NAME", "LARGEST_GENERATOR"}

func (m SlackBusSelectionMode) String() string { return slackBusSelectionNames.name(int(m)) }

// UnmarshalYAML 按名称解析
func (m *SlackBusSelectionMode) UnmarshalYAML(value *yaml.Node) error {
	i, err := decodeEnum(value, "slack bus selection mode", slackBusSelectionNames)
	*m = SlackBusSelectionMode(i)
	return err
}

// VoltageInitMode 电压初值方式
type VoltageInitMode int

const (
	VoltageInitUniform VoltageInitMode = iota
	VoltageInitDCValues
	VoltageInitPrevious
)

var voltageInitNames = enumNames{"UNIFORM", "DC_VALUES", "PREVIOUS"}

func (m VoltageInitMode) String() string { return voltageInitNames.name(int(m)) }

// UnmarshalYAML 按名称解析
func (m *VoltageInitMode) UnmarshalYAML(value *yaml.Node) error {
	i, err := decodeEnum(value, "voltage init mode", voltageInitNames)
	*m = VoltageInitMode(i)
	return err
}

// TransformerVoltageControlMode 变压器电压控制方式
type TransformerVoltageControlMode int

const (
	TransformerWithGeneratorVoltageControl TransformerVoltageControlMode = iota
	TransformerAfterGeneratorVoltageControl
	TransformerIncrementalVoltageControl
)

var transformerVoltageControlNames = enumNames{
	"WITH_GENERATOR_VOLTAGE_CONTROL",
	"AFTER_GENERATOR_VOLTAGE_CONTROL",
	"INCREMENTAL_VOLTAGE_CONTROL",
}

func (m TransformerVoltageControlMode) String() string {
	return transformerVoltageControlNames.name(int(m))
}

// UnmarshalYAML 按名称解析
func (m *TransformerVoltageControlMode) UnmarshalYAML(value *yaml.Node) error {
	i, err := decodeEnum(value, "transformer voltage control mode", transformerVoltageControlNames)
	*m = TransformerVoltageControlMode(i)
	return err
}

// ShuntVoltageControlMode 并联补偿电压控制方式
type ShuntVoltageControlMode int

const (
	ShuntWithGeneratorVoltageControl ShuntVoltageControlMode = iota
	ShuntIncrementalVoltageControl
)

var shuntVoltageControlNames = enumNames{"WITH_GENERATOR_VOLTAGE_CONTROL", "INCREMENTAL_VOLTAGE_CONTROL"}

func (m ShuntVoltageControlMode) String() string { return shuntVoltageControlNames.name(int(m)) }

// UnmarshalYAML 按名称解析
func (m *ShuntVoltageControlMode) UnmarshalYAML(value *yaml.Node) error {
	i, err := decodeEnum(value, "shunt voltage control mode", shuntVoltageControlNames)
	*m = ShuntVoltageControlMode(i)
	return err
}

// PhaseShifterControlMode 移相器控制方式
type PhaseShifterControlMode int

const (
	PhaseShifterContinuousWithDiscretisation PhaseShifterControlMode = iota
	PhaseShifterIncremental
)

var phaseShifterControlNames = enumNames{"CONTINUOUS_WITH_DISCRETISATION", "INCREMENTAL"}

func (m PhaseShifterControlMode) String() string { return phaseShifterControlNames.name(int(m)) }

// UnmarshalYAML 按名称解析
func (m *PhaseShifterControlMode) UnmarshalYAML(value *yaml.Node) error {
	i, err := decodeEnum(value, "phase shifter control mode", phaseShifterControlNames)
	*m = PhaseShifterControlMode(i)
	return err
}

// PhaseRegulationMode 单台移相器调节模式
type PhaseRegulationMode int

const (
	PhaseFixedTap PhaseRegulationMode = iota
	PhaseCurrentLimiter
	PhaseActivePowerControl
)

var phaseRegulationNames = enumNames{"FIXED_TAP", "CURRENT_LIMITER", "ACTIVE_POWER_CONTROL"}

func (m PhaseRegulationMode) String() string { return phaseRegulationNames.name(int(m)) }

// ParsePhaseRegulationMode 按名称解析
func ParsePhaseRegulationMode(s string) (PhaseRegulationMode, error) {
	i, err := phaseRegulationNames.parse("phase regulation mode", s)
	return PhaseRegulationMode(i), err
}

// SlackDistributionFailureBehavior 功率分配失败时的处理策略
type SlackDistributionFailureBehavior int

const (
	LeaveOnSlackBus SlackDistributionFailureBehavior = iota
	FailOnDistribution
	ThrowOnDistribution
	DistributeOnReferenceGenerator
)

var slackFailureNames = enumNames{"LEAVE_ON_SLACK_BUS", "FAIL", "THROW", "DISTRIBUTE_ON_REFERENCE_GENERATOR"}

func (b SlackDistributionFailureBehavior) String() string { return slackFailureNames.name(int(b)) }

// UnmarshalYAML 按名称解析
func (b *SlackDistributionFailureBehavior) UnmarshalYAML(value *yaml.Node) error {
	i, err := decodeEnum(value, "slack distribution failure behavior", slackFailureNames)
	*b = SlackDistributionFailureBehavior(i)
	return err
}

// BalanceType 不平衡功率分配系数
type BalanceType int

const (
	BalanceProportionalToPMax BalanceType = iota
	BalanceProportionalToRemainingMargin
	BalanceProportionalToParticipationFactor
	BalanceProportionalToDroop
	BalanceProportionalToLoad
)

var balanceTypeNames = enumNames{"P_MAX", "REMAINING_MARGIN", "PARTICIPATION_FACTOR", "DROOP", "LOAD"}

func (b BalanceType) String() string { return balanceTypeNames.name(int(b)) }

// UnmarshalYAML 按名称解析
func (b *BalanceType) UnmarshalYAML(value *yaml.Node) error {
	i, err := decodeEnum(value, "balance type", balanceTypeNames)
	*b = BalanceType(i)
	return err
}

// StateVectorScalingMode 牛顿步长缩放方式
type StateVectorScalingMode int

const (
	ScalingNone StateVectorScalingMode = iota
	ScalingMaxVoltageChange
	ScalingDamped
)

var scalingNames = enumNames{"NONE", "MAX_VOLTAGE_CHANGE", "DAMPED"}

func (m StateVectorScalingMode) String() string { return scalingNames.name(int(m)) }

// UnmarshalYAML 按名称解析
func (m *StateVectorScalingMode) UnmarshalYAML(value *yaml.Node) error {
	i, err := decodeEnum(value, "state vector scaling mode", scalingNames)
	*m = StateVectorScalingMode(i)
	return err
}

// LinearSolver 雅可比线性求解器
type LinearSolver int

const (
	SparseLUSolver LinearSolver = iota
	DenseLUSolver
)

var linearSolverNames = enumNames{"SPARSE_LU", "DENSE_LU"}

func (s LinearSolver) String() string { return linearSolverNames.name(int(s)) }

// UnmarshalYAML 按名称解析
func (s *LinearSolver) UnmarshalYAML(value *yaml.Node) error {
	i, err := decodeEnum(value, "linear solver", linearSolverNames)
	*s = LinearSolver(i)
	return err
}

// ComponentMode 连通分量计算范围
type ComponentMode int

const (
	ComponentMain ComponentMode = iota
	ComponentAll
)

var componentModeNames = enumNames{"MAIN", "ALL"}

func (m ComponentMode) String() string { return componentModeNames.name(int(m)) }

// UnmarshalYAML 按名称解析
func (m *ComponentMode) UnmarshalYAML(value *yaml.Node) error {
	i, err := decodeEnum(value, "connected component mode", componentModeNames)
	*m = ComponentMode(i)
	return err
}
