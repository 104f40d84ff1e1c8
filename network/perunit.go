package network

import "math"

// PerUnit 标幺值换算上下文，一次计算内保持不变
type PerUnit struct {
	BaseMVA float64 // 基准容量(MVA)
}

// Power MW/MVar -> pu
func (pu PerUnit) Power(mw float64) float64 { return mw / pu.BaseMVA }

// MW pu -> MW/MVar
func (pu PerUnit) MW(p float64) float64 { return p * pu.BaseMVA }

// ZBase 阻抗基准(Ω)
func (pu PerUnit) ZBase(nominalKV float64) float64 { return nominalKV * nominalKV / pu.BaseMVA }

// Impedance Ω -> pu
func (pu PerUnit) Impedance(ohm, nominalKV float64) float64 { return ohm / pu.ZBase(nominalKV) }

// Admittance S -> pu
func (pu PerUnit) Admittance(siemens, nominalKV float64) float64 {
	return siemens * pu.ZBase(nominalKV)
}

// Voltage kV -> pu
func (pu PerUnit) Voltage(kv, nominalKV float64) float64 { return kv / nominalKV }

// Ampere 电流标幺值 -> A
func (pu PerUnit) Ampere(i, nominalKV float64) float64 {
	return i * pu.BaseMVA * 1000 / (math.Sqrt(3) * nominalKV)
}
