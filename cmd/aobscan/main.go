package main

import (
	"fmt"
	"os"

	"aobpatch/hexdump"
	"aobpatch/image_source"
	"aobpatch/pattern"
	"aobpatch/process"
	"aobpatch/scanner"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/alexflint/go-arg"
)

type args struct {
	Pattern string `arg:"positional,required" help:"pattern in bit notation (0 1 . with [ ] groups), or hex with --hex"`
	Hex     bool   `arg:"--hex" help:"pattern is hex bytes: 48 8B 05 [?? ?? ?? ??]"`
	PID     int    `arg:"--pid" help:"process to scan, 0 for this process"`
	Module  string `arg:"--module" help:"module to scan (default: the main executable)"`
	File    string `arg:"--file" help:"scan an executable file instead of a process"`
	Regions bool   `arg:"--regions" help:"scan every readable region of the process, or of --module when set"`
	Workers int    `arg:"--workers" help:"scan workers (default: GOMAXPROCS)"`
	Context int    `arg:"--context" default:"16" help:"bytes of context either side of a match"`
	Limit   int    `arg:"--limit" default:"16" help:"matches to dump, 0 for all"`
}

func (args) Description() string {
	return "aobscan finds every occurrence of a byte pattern in a process module or an executable file"
}

func main() {
	var a args
	p := arg.MustParse(&a)
	if a.Context < 0 {
		p.Fail("--context must not be negative")
	}
	if a.Regions && a.File != "" {
		p.Fail("--regions only applies to a process")
	}

	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "aobscan"))

	pat, err := pattern.CompileAny(a.Pattern, a.Hex)
	if err != nil {
		fmt.Printf("Error parsing pattern: %v\n", err)
		os.Exit(1)
	}

	s := scanner.New(scanner.WithWorkers(a.Workers))

	scan := s.ScanImage
	var images []*process.Image
	if a.Regions {
		regions, err := image_source.OpenRegions(a.PID, a.Module)
		if err != nil {
			fmt.Printf("Error reading regions: %v\n", err)
			os.Exit(1)
		}
		defer regions.Close()
		images = regions.Images
		scan = func(img *process.Image, p *pattern.Pattern) []scanner.Match {
			return s.Scan(img.Data, p)
		}
	} else {
		src, err := image_source.Open(a.PID, a.Module, a.File)
		if err != nil {
			fmt.Printf("Error opening image: %v\n", err)
			os.Exit(1)
		}
		defer src.Close()
		images = []*process.Image{src.Image}
	}

	total, shown := 0, 0
	for _, img := range images {
		log.Debugln("Scanning", img.String(), "for", pat.String())
		matches := scan(img, pat)
		if len(matches) == 0 {
			continue
		}
		total += len(matches)
		fmt.Printf("%s: %d matches\n", img.String(), len(matches))

		for i, m := range matches {
			if a.Limit > 0 && shown >= a.Limit {
				fmt.Printf("... %d more in %s\n", len(matches)-i, img.Name)
				break
			}
			shown++
			fmt.Printf("Match at %s (offset 0x%X)\n", img.Address(m.Offset).ToString(), m.Offset)
			for g, c := range m.Captures {
				fmt.Printf("  group %d at %s: % X\n", g, img.Address(c.Offset).ToString(), c.Bytes)
			}
			fmt.Print(hexdump.MatchContext(img, m, pat.Len(), a.Context, hexdump.DefaultOptions()))
		}
	}
	fmt.Printf("Found %d matches in %d images\n", total, len(images))

	if total == 0 {
		os.Exit(2)
	}
}
