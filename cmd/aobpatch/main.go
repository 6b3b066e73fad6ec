package main

import (
	"errors"
	"fmt"
	"os"

	"aobpatch/config"
	"aobpatch/hexdump"
	"aobpatch/image_source"
	"aobpatch/patcher"
	"aobpatch/resolver"
	"aobpatch/scanner"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/alexflint/go-arg"
)

type args struct {
	Table   string `arg:"positional,required" help:"YAML command table"`
	PID     int    `arg:"--pid" help:"process to patch, 0 for this process"`
	Module  string `arg:"--module" help:"module to patch (default: the main executable)"`
	File    string `arg:"--file" help:"patch a copy of an executable file instead of a process"`
	Out     string `arg:"--out" help:"where to write the patched copy of --file"`
	DryRun  bool   `arg:"--dry-run" help:"locate and verify, write nothing"`
	Reverse bool   `arg:"--reverse" help:"undo the table: put every baseline back"`
	Restore bool   `arg:"--restore-protection" help:"restore page protection after each write"`
	Workers int    `arg:"--workers" help:"scan workers (default: GOMAXPROCS)"`
}

func (args) Description() string {
	return "aobpatch locates the targets of a command table and applies its verified patches"
}

func main() {
	var a args
	p := arg.MustParse(&a)
	if a.File != "" && a.Out == "" && !a.DryRun {
		p.Fail("--out is required with --file")
	}
	if a.Out != "" && a.File == "" {
		p.Fail("--out only applies to --file")
	}

	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "aobpatch"))

	table, err := config.Load(a.Table)
	if err != nil {
		fmt.Printf("Error loading command table: %v\n", err)
		os.Exit(1)
	}

	src, err := image_source.Open(a.PID, a.Module, a.File)
	if err != nil {
		fmt.Printf("Error opening image: %v\n", err)
		os.Exit(1)
	}
	defer src.Close()

	img := src.Image
	s := scanner.New(scanner.WithWorkers(a.Workers))

	cache := resolver.NewCache()
	found, err := cache.LocateAll(s, img, table.ResolverTargets())
	for _, d := range found {
		log.Infoln("Found", d.Name, "at", d.Address.ToString(), fmt.Sprintf("(rva 0x%X)", d.RVA))
	}
	if err != nil {
		log.Warn("Some targets were not found: ", err)
	}

	commands, err := table.PatchCommands(s, cache)
	if err != nil {
		fmt.Printf("Error building commands: %v\n", err)
		os.Exit(1)
	}
	if a.Reverse {
		for i := range commands {
			commands[i] = patcher.Reverse(commands[i])
		}
	}

	e := patcher.NewExecutor(
		patcher.WithDryRun(a.DryRun),
		patcher.WithRestoreProtection(a.Restore),
	)
	outcomes := e.Run(img, commands, table.Toggles())

	for _, o := range outcomes {
		var mismatch *patcher.BaselineMismatchError
		if errors.As(o.Err, &mismatch) {
			fmt.Printf("%s:\n", o.Name)
			fmt.Print(hexdump.Diff(mismatch.Address, commands[o.Index].Expected(), mismatch.Found, hexdump.DefaultOptions()))
		}
	}

	counts := patcher.Summary(outcomes)
	if src.IsFile() && !a.DryRun {
		if counts[patcher.Applied] == 0 {
			log.Warn("Nothing applied, not writing ", a.Out)
		} else if err := src.Save(a.Out); err != nil {
			fmt.Printf("Error writing %s: %v\n", a.Out, err)
			os.Exit(1)
		} else {
			log.Infoln("Wrote", a.Out)
		}
	}

	if counts[patcher.Failed] > 0 {
		os.Exit(1)
	}
}
