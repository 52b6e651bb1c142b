// Command veilc inspects and verifies veil build artifacts: it resolves
// the project seed, prints the build fingerprint, and checks stored
// envelopes against the current build.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/veil/manifest"
	"github.com/chazu/veil/seed"
	"github.com/chazu/veil/store"
	"github.com/chazu/veil/vm"
)

var log = commonlog.GetLogger("veilc")

func main() {
	dir := flag.String("C", ".", "project directory")
	verbose := flag.Int("v", 0, "log verbosity")
	flag.Parse()

	commonlog.Configure(*verbose, nil)

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	m, err := manifest.Load(*dir)
	if err != nil {
		fail(err)
	}
	s, err := seed.Load(m.Dir)
	if err != nil {
		fail(err)
	}
	material, err := seed.Derive(s)
	if err != nil {
		fail(err)
	}

	switch flag.Arg(0) {
	case "info":
		fmt.Printf("project:  %s %s\n", m.Project.Name, m.Project.Version)
		fmt.Printf("build-id: %s\n", store.BuildKey(material.BuildID))
		fmt.Printf("level:    %s\n", m.Build.Level)

	case "list":
		st, err := store.Open(m.Build.Store)
		if err != nil {
			fail(err)
		}
		defer st.Close()
		entries, err := st.List(material.BuildID)
		if err != nil {
			fail(err)
		}
		for _, e := range entries {
			fmt.Printf("%-24s %-9s %7d bytes  %s\n",
				e.Unit, e.Level, e.Size, e.CreatedAt.Format("2006-01-02 15:04:05"))
		}

	case "verify":
		if flag.NArg() < 2 {
			usage()
			os.Exit(2)
		}
		unit := flag.Arg(1)
		st, err := store.Open(m.Build.Store)
		if err != nil {
			fail(err)
		}
		defer st.Close()
		env, err := st.Get(material.BuildID, unit)
		if err != nil {
			fail(err)
		}
		engine := vm.NewEngine(material)
		if _, err := engine.Load(env); err != nil {
			log.Errorf("unit %s rejected: %s", unit, err.Error())
			os.Exit(1)
		}
		fmt.Printf("unit %s: ok (%d bytes)\n", unit, len(env))

	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: veilc [-C dir] [-v n] info | list | verify <unit>")
}

func fail(err error) {
	log.Criticalf("%s", err.Error())
	os.Exit(1)
}
