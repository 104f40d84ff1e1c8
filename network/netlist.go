package network

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"loadflow/types"
)

// ErrSyntax 网表语法错误
var ErrSyntax = errors.New("network: netlist syntax")

// 网表格式：每行一个记录，# 开头为注释
//
//	base 100
//	bus NGEN 24
//	line L1 NHV1 NHV2 r=3 x=33 b1=1.93e-4 b2=1.93e-4
//	transformer T1 NGEN NHV1 ratedU1=24 ratedU2=400 r=0.27 x=11.1
//	ratiotap T2 low=0 position=1 rho=0.85,1,1.15 regulating=true bus=NLOAD targetV=158
//	phasetap PS1 low=0 position=30 alpha=-15:0.5:15 mode=ACTIVE_POWER_CONTROL target=83 deadband=1
//	gen G1 NGEN p=607 minP=-9999 maxP=9999 v=24.5 minQ=-9999 maxQ=9999
//	load LD NLOAD p=600 q=200
//	shunt SH NLOAD b=1e-3 sections=0 max=3 regulating=true targetV=150 deadband=1
//	area A target=50 buses=B1,B2 boundaries=L1:1,L2:2
//
// 列表值用逗号分隔，a:step:b 表示等差序列。

// LoadFile 从文件加载网表
func LoadFile(filename string) (*Network, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Parse(file)
}

// Parse 解析网表文本
func Parse(r io.Reader) (*Network, error) {
	var net *Network
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = strings.TrimSpace(text[:i])
		}
		if text == "" {
			continue
		}
		rec := parseRecord(line, text)
		if rec.kind == "base" {
			if net != nil {
				return nil, fmt.Errorf("%w: line %d: base must precede all elements", ErrSyntax, line)
			}
			mva, err := strconv.ParseFloat(rec.arg(0), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: base: %v", ErrSyntax, line, err)
			}
			net = New(mva)
			continue
		}
		if net == nil {
			net = New(types.DefaultBaseMVA)
		}
		if err := net.apply(rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if net == nil {
		net = New(types.DefaultBaseMVA)
	}
	return net, nil
}

// record 网表记录
type record struct {
	line   int
	kind   string
	args   []string
	values map[string]string
	used   map[string]bool
	err    error
}

func parseRecord(line int, text string) *record {
	fields := strings.Fields(text)
	rec := &record{
		line:   line,
		kind:   strings.ToLower(fields[0]),
		values: make(map[string]string),
		used:   make(map[string]bool),
	}
	for _, f := range fields[1:] {
		if k, v, ok := strings.Cut(f, "="); ok {
			rec.values[strings.ToLower(k)] = v
			continue
		}
		rec.args = append(rec.args, f)
	}
	return rec
}

func (r *record) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *record) arg(i int) string {
	if i < len(r.args) {
		return r.args[i]
	}
	r.fail(fmt.Errorf("%w: %s: missing argument %d", ErrSyntax, r.kind, i+1))
	return ""
}

func (r *record) lookup(key string) (string, bool) {
	key = strings.ToLower(key)
	v, ok := r.values[key]
	if ok {
		r.used[key] = true
	}
	return v, ok
}

func (r *record) str(key, def string) string {
	if v, ok := r.lookup(key); ok {
		return v
	}
	return def
}

func (r *record) float(key string, def float64) float64 {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(fmt.Errorf("%w: %s %s=%q", ErrSyntax, r.kind, key, v))
	}
	return f
}

func (r *record) int(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.fail(fmt.Errorf("%w: %s %s=%q", ErrSyntax, r.kind, key, v))
	}
	return i
}

func (r *record) bool(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(fmt.Errorf("%w: %s %s=%q", ErrSyntax, r.kind, key, v))
	}
	return b
}

func (r *record) list(key string) []string {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

// floats 解析数值列表，支持 a:step:b 等差序列
func (r *record) floats(key string) []float64 {
	var out []float64
	for _, item := range r.list(key) {
		parts := strings.Split(item, ":")
		nums := make([]float64, len(parts))
		for i, p := range parts {
			f, err := strconv.ParseFloat(p, 64)
			if err != nil {
				r.fail(fmt.Errorf("%w: %s %s=%q", ErrSyntax, r.kind, key, item))
				return nil
			}
			nums[i] = f
		}
		switch len(nums) {
		case 1:
			out = append(out, nums[0])
		case 3:
			from, step, to := nums[0], nums[1], nums[2]
			if step == 0 || (to-from)/step < 0 {
				r.fail(fmt.Errorf("%w: %s %s=%q bad range", ErrSyntax, r.kind, key, item))
				return nil
			}
			count := int((to-from)/step+1e-9) + 1
			for k := 0; k < count; k++ {
				out = append(out, from+float64(k)*step)
			}
		default:
			r.fail(fmt.Errorf("%w: %s %s=%q", ErrSyntax, r.kind, key, item))
			return nil
		}
	}
	return out
}

func (r *record) side(key string, def Side) Side {
	s := r.int(key, int(def))
	if s != int(Side1) && s != int(Side2) {
		r.fail(fmt.Errorf("%w: %s %s=%d", ErrSyntax, r.kind, key, s))
	}
	return Side(s)
}

// finish 检查解析错误与未识别的键
func (r *record) finish() error {
	if r.err != nil {
		return r.err
	}
	var unknown []string
	for k := range r.values {
		if !r.used[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %s: unknown keys %v", ErrSyntax, r.kind, unknown)
	}
	return nil
}

// apply 执行一条记录
func (n *Network) apply(r *record) error {
	var build func() error
	switch r.kind {
	case "bus":
		id, nominal := r.arg(0), r.arg(1)
		kv, err := strconv.ParseFloat(nominal, 64)
		if err != nil {
			r.fail(fmt.Errorf("%w: bus nominal voltage %q", ErrSyntax, nominal))
		}
		build = func() error { _, err := n.AddBus(id, kv); return err }
	case "line":
		spec := LineSpec{
			ID: r.arg(0), Bus1: r.arg(1), Bus2: r.arg(2),
			R: r.float("r", 0), X: r.float("x", 0),
			G1: r.float("g1", 0), B1: r.float("b1", 0),
			G2: r.float("g2", 0), B2: r.float("b2", 0),
			Open1: r.bool("open1", false), Open2: r.bool("open2", false),
		}
		build = func() error { _, err := n.AddLine(spec); return err }
	case "transformer":
		spec := TransformerSpec{
			ID: r.arg(0), Bus1: r.arg(1), Bus2: r.arg(2),
			RatedU1: r.float("ratedU1", 0), RatedU2: r.float("ratedU2", 0),
			R: r.float("r", 0), X: r.float("x", 0),
			G: r.float("g", 0), B: r.float("b", 0),
			Open1: r.bool("open1", false), Open2: r.bool("open2", false),
		}
		build = func() error { _, err := n.AddTransformer(spec); return err }
	case "ratiotap":
		spec := RatioTapSpec{
			LowPosition:    r.int("low", 0),
			Position:       r.int("position", 0),
			Rhos:           r.floats("rho"),
			Regulating:     r.bool("regulating", false),
			RegulatedBus:   r.str("bus", ""),
			TargetV:        r.float("targetV", 0),
			TargetDeadband: r.float("deadband", 0),
		}
		if _, ok := r.values["targetq"]; ok {
			spec.ReactivePower = &ReactivePowerSpec{
				Regulating:      r.bool("qregulating", false),
				RegulatedBranch: r.str("qbranch", ""),
				Side:            r.side("qside", Side1),
				TargetQ:         r.float("targetQ", 0),
				Deadband:        r.float("qdeadband", 0),
			}
		}
		id := r.arg(0)
		build = func() error { return n.AttachRatioTap(id, spec) }
	case "phasetap":
		mode := types.PhaseFixedTap
		if s := r.str("mode", ""); s != "" {
			m, err := types.ParsePhaseRegulationMode(s)
			if err != nil {
				r.fail(fmt.Errorf("%w: %v", ErrSyntax, err))
			}
			mode = m
		}
		spec := PhaseTapSpec{
			LowPosition:     r.int("low", 0),
			Position:        r.int("position", 0),
			Alphas:          r.floats("alpha"),
			Rhos:            r.floats("rho"),
			Mode:            mode,
			Regulating:      r.bool("regulating", mode != types.PhaseFixedTap),
			RegulatedBranch: r.str("branch", ""),
			Side:            r.side("side", Side1),
			Target:          r.float("target", 0),
			Deadband:        r.float("deadband", 0),
		}
		id := r.arg(0)
		build = func() error { return n.AttachPhaseTap(id, spec) }
	case "gen":
		v := r.float("v", 0)
		spec := GeneratorSpec{
			ID: r.arg(0), Bus: r.arg(1),
			TargetP: r.float("p", 0), MinP: r.float("minP", 0), MaxP: r.float("maxP", 0),
			TargetQ: r.float("q", 0), MinQ: r.float("minQ", -9999), MaxQ: r.float("maxQ", 9999),
			VoltageRegulatorOn:  v > 0,
			TargetV:             v,
			RegulatedBus:        r.str("regulatedBus", ""),
			Slope:               r.float("slope", 0),
			Fixed:               r.bool("fixed", false),
			ParticipationFactor: r.float("pf", 0),
			Droop:               r.float("droop", 0),
			Disconnected:        r.bool("open", false),
		}
		if spec.MaxP == 0 && spec.MinP == 0 {
			spec.MaxP = 9999
		}
		build = func() error { _, err := n.AddGenerator(spec); return err }
	case "load":
		spec := LoadSpec{
			ID: r.arg(0), Bus: r.arg(1),
			P: r.float("p", 0), Q: r.float("q", 0),
			Fixed:        r.bool("fixed", false),
			Disconnected: r.bool("open", false),
		}
		build = func() error { _, err := n.AddLoad(spec); return err }
	case "shunt":
		spec := ShuntSpec{
			ID: r.arg(0), Bus: r.arg(1),
			G:               r.float("g", 0),
			BPerSection:     r.float("b", 0),
			SectionCount:    r.int("sections", 0),
			MaxSectionCount: r.int("max", 1),
			Regulating:      r.bool("regulating", false),
			RegulatedBus:    r.str("bus", ""),
			TargetV:         r.float("targetV", 0),
			TargetDeadband:  r.float("deadband", 0),
			Disconnected:    r.bool("open", false),
		}
		build = func() error { _, err := n.AddShunt(spec); return err }
	case "area":
		spec := AreaSpec{ID: r.arg(0), Target: r.float("target", 0), Buses: r.list("buses")}
		for _, b := range r.list("boundaries") {
			id, side, ok := strings.Cut(b, ":")
			s, err := strconv.Atoi(side)
			if !ok || err != nil {
				r.fail(fmt.Errorf("%w: area boundary %q", ErrSyntax, b))
				continue
			}
			spec.Boundaries = append(spec.Boundaries, BoundarySpec{Branch: id, Side: Side(s)})
		}
		build = func() error { _, err := n.AddArea(spec); return err }
	default:
		return fmt.Errorf("%w: unknown record %q", ErrSyntax, r.kind)
	}
	if err := r.finish(); err != nil {
		return err
	}
	return build()
}
