package types

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Parameters 潮流计算参数，功率类容差为 MW/MVar，其余为标幺值
type Parameters struct {
	// 平衡节点
	SlackBusSelectionMode SlackBusSelectionMode `yaml:"slackBusSelectionMode"`
	SlackBusIDs           []string              `yaml:"slackBusIds"`

	// 不平衡功率分配
	DistributedSlack                 bool                             `yaml:"distributedSlack"`
	BalanceType                      BalanceType                      `yaml:"balanceType"`
	SlackDistributionFailureBehavior SlackDistributionFailureBehavior `yaml:"slackDistributionFailureBehavior"`
	ReferenceGeneratorID             string                           `yaml:"referenceGeneratorId"`
	AreaInterchangeControl           bool                             `yaml:"areaInterchangeControl"` // 投入时取代 DistributedSlack

	// 电压控制
	VoltageControl                           bool    `yaml:"voltageControl"`
	UseReactiveLimits                        bool    `yaml:"useReactiveLimits"`
	MaxPqPvSwitch                            int     `yaml:"maxPqPvSwitch"`
	GeneratorVoltageControlMinNominalVoltage float64 `yaml:"generatorVoltageControlMinNominalVoltage"`
	MinPlausibleTargetVoltage                float64 `yaml:"minPlausibleTargetVoltage"`
	MaxPlausibleTargetVoltage                float64 `yaml:"maxPlausibleTargetVoltage"`

	// 离散控制
	TransformerVoltageControl       bool                          `yaml:"transformerVoltageControl"`
	TransformerVoltageControlMode   TransformerVoltageControlMode `yaml:"transformerVoltageControlMode"`
	TransformerReactivePowerControl bool                          `yaml:"transformerReactivePowerControl"`
	ShuntVoltageControl             bool                          `yaml:"shuntVoltageControl"`
	ShuntVoltageControlMode         ShuntVoltageControlMode       `yaml:"shuntVoltageControlMode"`
	PhaseShifterRegulation          bool                          `yaml:"phaseShifterRegulation"`
	PhaseShifterControlMode         PhaseShifterControlMode       `yaml:"phaseShifterControlMode"`
	UseInitialTapPosition           bool                          `yaml:"useInitialTapPosition"`

	// 牛顿迭代
	VoltageInitMode            VoltageInitMode        `yaml:"voltageInitMode"`
	MaxNewtonRaphsonIterations int                    `yaml:"maxNewtonRaphsonIterations"`
	MaxOuterLoopIterations     int                    `yaml:"maxOuterLoopIterations"`
	StateVectorScalingMode     StateVectorScalingMode `yaml:"stateVectorScalingMode"`
	LinearSolver               LinearSolver           `yaml:"linearSolver"`

	// 收敛容差
	MaxActivePowerMismatch      float64 `yaml:"maxActivePowerMismatch"`
	MaxReactivePowerMismatch    float64 `yaml:"maxReactivePowerMismatch"`
	MaxVoltageMismatch          float64 `yaml:"maxVoltageMismatch"`
	MaxAngleMismatch            float64 `yaml:"maxAngleMismatch"`
	MaxRatioMismatch            float64 `yaml:"maxRatioMismatch"`
	MaxSusceptanceMismatch      float64 `yaml:"maxSusceptanceMismatch"`
	SlackBusPMaxMismatch        float64 `yaml:"slackBusPMaxMismatch"`
	AreaInterchangePMaxMismatch float64 `yaml:"areaInterchangePMaxMismatch"`

	// 计算范围
	ConnectedComponentMode ComponentMode `yaml:"connectedComponentMode"`
	Parallelism            int           `yaml:"parallelism"` // 0 表示 GOMAXPROCS
}

// DefaultParameters 默认参数
func DefaultParameters() *Parameters {
	return &Parameters{
		SlackBusSelectionMode:                    SlackBusMostMeshed,
		DistributedSlack:                         true,
		BalanceType:                              BalanceProportionalToPMax,
		SlackDistributionFailureBehavior:         LeaveOnSlackBus,
		VoltageControl:                           true,
		UseReactiveLimits:                        true,
		MaxPqPvSwitch:                            DefaultMaxPqPvSwitch,
		GeneratorVoltageControlMinNominalVoltage: -1,
		MinPlausibleTargetVoltage:                DefaultMinPlausibleTargetVoltage,
		MaxPlausibleTargetVoltage:                DefaultMaxPlausibleTargetVoltage,
		TransformerVoltageControlMode:            TransformerWithGeneratorVoltageControl,
		ShuntVoltageControlMode:                  ShuntWithGeneratorVoltageControl,
		PhaseShifterControlMode:                  PhaseShifterContinuousWithDiscretisation,
		VoltageInitMode:                          VoltageInitUniform,
		MaxNewtonRaphsonIterations:               DefaultMaxNewtonRaphsonIter,
		MaxOuterLoopIterations:                   DefaultMaxOuterLoopIter,
		StateVectorScalingMode:                   ScalingNone,
		LinearSolver:                             SparseLUSolver,
		MaxActivePowerMismatch:                   DefaultMaxActivePowerMismatch,
		MaxReactivePowerMismatch:                 DefaultMaxReactivePowerMismatch,
		MaxVoltageMismatch:                       DefaultMaxVoltageMismatch,
		MaxAngleMismatch:                         DefaultMaxAngleMismatch,
		MaxRatioMismatch:                         DefaultMaxRatioMismatch,
		MaxSusceptanceMismatch:                   DefaultMaxSusceptanceMismatch,
		SlackBusPMaxMismatch:                     DefaultSlackBusPMaxMismatch,
		AreaInterchangePMaxMismatch:              DefaultAreaInterchangePMaxMismatch,
		ConnectedComponentMode:                   ComponentMain,
	}
}

// Validate 检查参数取值
func (p *Parameters) Validate() error {
	var errs []error
	positive := func(name string, v float64) {
		if !(v > 0) {
			errs = append(errs, fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidParameters, name, v))
		}
	}
	if p.MaxNewtonRaphsonIterations < 1 {
		errs = append(errs, fmt.Errorf("%w: maxNewtonRaphsonIterations must be at least 1", ErrInvalidParameters))
	}
	if p.MaxOuterLoopIterations < 1 {
		errs = append(errs, fmt.Errorf("%w: maxOuterLoopIterations must be at least 1", ErrInvalidParameters))
	}
	if p.MaxPqPvSwitch < 0 {
		errs = append(errs, fmt.Errorf("%w: maxPqPvSwitch must not be negative", ErrInvalidParameters))
	}
	if p.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("%w: parallelism must not be negative", ErrInvalidParameters))
	}
	positive("maxActivePowerMismatch", p.MaxActivePowerMismatch)
	positive("maxReactivePowerMismatch", p.MaxReactivePowerMismatch)
	positive("maxVoltageMismatch", p.MaxVoltageMismatch)
	positive("maxAngleMismatch", p.MaxAngleMismatch)
	positive("maxRatioMismatch", p.MaxRatioMismatch)
	positive("maxSusceptanceMismatch", p.MaxSusceptanceMismatch)
	positive("slackBusPMaxMismatch", p.SlackBusPMaxMismatch)
	positive("areaInterchangePMaxMismatch", p.AreaInterchangePMaxMismatch)
	if p.MinPlausibleTargetVoltage >= p.MaxPlausibleTargetVoltage {
		errs = append(errs, fmt.Errorf("%w: plausible target voltage band [%v, %v] is empty",
			ErrInvalidParameters, p.MinPlausibleTargetVoltage, p.MaxPlausibleTargetVoltage))
	}
	if p.SlackBusSelectionMode == SlackBusName && len(p.SlackBusIDs) == 0 {
		errs = append(errs, fmt.Errorf("%w: slack bus selection NAME requires slackBusIds", ErrInvalidParameters))
	}
	return errors.Join(errs...)
}

// LoadParameters 从 YAML 读取参数，未出现的键保留默认值，未知键报错
func LoadParameters(r io.Reader) (*Parameters, error) {
	p := DefaultParameters()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("loadflow: parameters: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
