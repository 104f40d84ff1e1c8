// loadflow 读取网表与参数文件执行潮流计算并打印结果
//
//	loadflow [-params params.yaml] [-v] [-charts out.html] [-plot out.png] network.net
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"loadflow"
	"loadflow/debug"
	"loadflow/network"
	"loadflow/types"
)

type config struct {
	netlist string
	params  string
	verbose bool
	charts  string
	plot    string
}

func main() {
	var cfg config
	flag.StringVar(&cfg.params, "params", "", "YAML 参数文件")
	flag.BoolVar(&cfg.verbose, "v", false, "输出调试日志")
	flag.StringVar(&cfg.charts, "charts", "", "收敛曲线 HTML 输出文件")
	flag.StringVar(&cfg.plot, "plot", "", "收敛曲线图片输出文件（按扩展名选择格式）")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: loadflow [flags] network.net")
		flag.PrintDefaults()
		os.Exit(2)
	}
	cfg.netlist = flag.Arg(0)
	if err := run(cfg, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// errNotConverged 存在未收敛的分量
var errNotConverged = errors.New("loadflow: not converged")

func run(cfg config, stdout, stderr io.Writer) error {
	level := slog.LevelInfo
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	params := types.DefaultParameters()
	if cfg.params != "" {
		file, err := os.Open(cfg.params)
		if err != nil {
			return err
		}
		params, err = types.LoadParameters(file)
		file.Close()
		if err != nil {
			return err
		}
	}
	net, err := network.LoadFile(cfg.netlist)
	if err != nil {
		return err
	}

	rec := &debug.Recorder{}
	opts := []loadflow.Option{loadflow.WithLogger(logger)}
	if cfg.charts != "" || cfg.plot != "" {
		opts = append(opts, loadflow.WithObserver(rec.Observer))
	}
	res, err := loadflow.Run(net, params, opts...)
	if res != nil {
		report(stdout, net, res)
	}
	if err != nil {
		return err
	}
	if cfg.charts != "" {
		if err := writeFile(cfg.charts, func(w io.Writer) error { return (&debug.Charts{Recorder: rec}).Render(w) }); err != nil {
			return err
		}
	}
	if cfg.plot != "" {
		format := strings.TrimPrefix(filepath.Ext(cfg.plot), ".")
		if err := writeFile(cfg.plot, func(w io.Writer) error { return (&debug.Plot{Recorder: rec}).Render(w, format) }); err != nil {
			return err
		}
	}
	if !res.Converged() {
		return errNotConverged
	}
	return nil
}

func writeFile(name string, render func(io.Writer) error) error {
	file, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := render(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// report 输出分量、母线与支路结果
func report(w io.Writer, net *network.Network, res *loadflow.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	defer tw.Flush()
	fmt.Fprintf(tw, "run %s\n", res.RunID)
	fmt.Fprintln(tw, "component\tstatus\tnewton\touter\tslack\tmismatch(MW)\tdistributed(MW)\t")
	for _, c := range res.Components {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\t%s\t%s\t\n",
			c.Num, c.Status, c.NewtonIterations, c.OuterIterations, c.SlackBusID, num(c.SlackBusMismatch), num(c.DistributedP))
		for _, d := range c.Disabled {
			fmt.Fprintf(tw, "\tdisabled: %s\t\t\t\t\t\t\n", d)
		}
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "bus\tV(kV)\tangle(deg)\t")
	for _, b := range net.Buses {
		fmt.Fprintf(tw, "%s\t%s\t%s\t\n", b.ID, num(b.VoltageKV()), num(b.AngleDegrees()))
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "branch\tP1(MW)\tQ1(MVar)\tI1(A)\tP2(MW)\tQ2(MVar)\tI2(A)\t")
	for _, br := range net.Branches {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n", br.ID,
			num(br.P1), num(br.Q1), num(br.I1), num(br.P2), num(br.Q2), num(br.I2))
	}
	if len(net.Areas) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "area\ttarget(MW)\tinterchange(MW)\t")
		for _, a := range net.Areas {
			fmt.Fprintf(tw, "%s\t%s\t%s\t\n", a.ID, num(net.MW(a.Target)), num(net.MW(a.Interchange)))
		}
	}
	for _, c := range res.Components {
		for _, p := range c.Positions {
			if p.Requested != p.Solved {
				fmt.Fprintf(tw, "%s %s: %d -> %d\n", p.Kind, p.Device, p.Requested, p.Solved)
			}
		}
	}
}

func num(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.3f", v)
}
