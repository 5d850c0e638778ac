package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"

	"github.com/perftools/symres/dso"
	"github.com/perftools/symres/metrics"
)

var symfs = flag.String("symfs", "", "directory holding debug copies of the profiled binaries")
var vmlinux = flag.String("vmlinux", "", "kernel image to read kernel symbols from")
var kallsyms = flag.String("kallsyms", "", "kallsyms snapshot to read kernel symbols from")
var procKallsyms = flag.Bool("proc-kallsyms", false, "allow reading live /proc/kallsyms")
var noDemangle = flag.Bool("no-demangle", false, "print mangled names")
var dsoType = flag.String("type", "elf", "binary kind: elf | kernel | module | dex")
var buildID = flag.String("build-id", "", "expected build-id of the binary, hex")

func main() {
	flag.Parse()
	logger := level.NewFilter(log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr)), level.AllowInfo())

	if err := run(logger); err != nil {
		level.Error(logger).Log("err", err)
		os.Exit(1)
	}
}

func run(logger log.Logger) error {
	args := flag.Args()
	if len(args) < 2 {
		return errors.New("usage: symres [flags] <binary> <hex-addr>...")
	}
	path := args[0]
	addrs, err := parseAddrs(args[1:])
	if err != nil {
		return err
	}

	typ, err := parseType(*dsoType)
	if err != nil {
		return err
	}

	ctx := dso.NewContext(logger, metrics.New(prometheus.NewRegistry()))
	ctx.SetDemangle(!*noDemangle)
	if *vmlinux != "" {
		ctx.SetVmlinux(*vmlinux)
	}
	if *kallsyms != "" {
		ctx.SetKallsyms(*kallsyms)
	}
	ctx.AllowKernelSymbolsFromProc(*procKallsyms)
	if *symfs != "" {
		if err := ctx.SetSymFS(*symfs); err != nil {
			return err
		}
	}
	if *buildID != "" {
		id := dso.BuildIDFromHex(*buildID)
		if id.IsEmpty() {
			return errors.Errorf("malformed build-id %q", *buildID)
		}
		ctx.SetBuildIDs([]dso.BuildIDEntry{{Path: path, ID: id}})
	}

	d := ctx.CreateDso(typ, path, true)
	defer d.Close()

	for _, addr := range addrs {
		s := d.FindSymbol(addr)
		if s == nil {
			fmt.Printf("%#x\t[unknown]\n", addr)
			continue
		}
		fmt.Printf("%#x\t%s + %#x\n", addr, s.DemangledName(), addr-s.Addr)
	}
	return nil
}

func parseAddrs(args []string) ([]uint64, error) {
	var parseErr error
	addrs := lo.Map(args, func(a string, _ int) uint64 {
		v, err := strconv.ParseUint(strings.TrimPrefix(a, "0x"), 16, 64)
		if err != nil && parseErr == nil {
			parseErr = errors.Wrapf(err, "bad address %q", a)
		}
		return v
	})
	return addrs, parseErr
}

func parseType(s string) (dso.Type, error) {
	switch s {
	case "elf":
		return dso.TypeElfFile, nil
	case "kernel":
		return dso.TypeKernel, nil
	case "module":
		return dso.TypeKernelModule, nil
	case "dex":
		return dso.TypeDexFile, nil
	default:
		return 0, errors.Errorf("unknown binary kind %q", s)
	}
}
