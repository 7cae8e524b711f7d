// Command smfdump prints the events of a Standard MIDI File.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/leandrodaf/midikit/sdk/smf"
)

func main() {
	merge := flag.Bool("merge", false, "merge all tracks into one before printing")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: smfdump [-merge] file.mid")
		os.Exit(2)
	}

	f, err := smf.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, w := range f.Warnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}
	if *merge {
		f = f.Merge()
	}

	tempo := f.TempoMap()
	fmt.Printf("format %s, %s, %d tracks, %s\n", f.Format, f.Division, len(f.Tracks), f.Duration())
	for i, t := range f.Tracks {
		fmt.Printf("track %d %q\n", i, t.Name())
		for j, tick := range t.AbsoluteTicks() {
			fmt.Printf("  %8d %12s  %s\n", tick, tempo.TicksToDuration(tick), t[j].Event)
		}
	}
}
