package types

// 默认参数常量定义
const (
	DefaultBaseMVA                     = 100.0 // 基准容量(MVA)
	DefaultMaxNewtonRaphsonIter        = 15    // 最大牛顿迭代次数
	DefaultMaxOuterLoopIter            = 20    // 最大外循环次数
	DefaultMaxActivePowerMismatch      = 1e-2  // 有功收敛容差(MW)
	DefaultMaxReactivePowerMismatch    = 1e-2  // 无功收敛容差(MVar)
	DefaultMaxVoltageMismatch          = 1e-4  // 电压收敛容差(pu)
	DefaultMaxAngleMismatch            = 1e-5  // 相角收敛容差(rad)
	DefaultMaxRatioMismatch            = 1e-5  // 变比收敛容差
	DefaultMaxSusceptanceMismatch      = 1e-4  // 电纳收敛容差(pu)
	DefaultSlackBusPMaxMismatch        = 1.0   // 平衡节点有功残差(MW)
	DefaultAreaInterchangePMaxMismatch = 2.0   // 区域交换功率残差(MW)
	DefaultMaxPqPvSwitch               = 3     // PQ->PV 最大切换次数
	DefaultMinPlausibleTargetVoltage   = 0.8   // 目标电压可信下限(pu)
	DefaultMaxPlausibleTargetVoltage   = 1.2   // 目标电压可信上限(pu)
)

// 数值阈值
var (
	MinImpedance         = 1e-8 // 最小阻抗(pu)，更小的阻抗按此值处理
	MaxVoltageChange     = 0.1  // 单步最大电压变化(pu)
	MaxAngleChange       = 0.17 // 单步最大相角/相移变化(rad)，约10度
	MaxRatioChange       = 0.05 // 单步最大变比变化
	MaxSusceptanceChange = 0.5  // 单步最大并联电纳变化(pu)
	MinDampingFactor     = 0.05 // 最小阻尼因子
	MaxDampingFactor     = 1.0  // 最大阻尼因子
)
