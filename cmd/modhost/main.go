// Command modhost is a small demo harness for the module registry: it
// builds a bundle from a directory of source files, attaches it to a
// fake isolate, and requires the entry point the way a host embedding a
// real JavaScript engine would during startup.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"modloader/pkg/engine"
	"modloader/pkg/engine/enginetest"
	"modloader/pkg/jsurl"
	"modloader/pkg/modules"
)

func main() {
	dirFlag := flag.String("dir", "", "directory of .js files to bundle under file:///")
	entryFlag := flag.String("entry", "index.js", "entry point specifier, resolved against -dir")
	verboseFlag := flag.Bool("v", false, "log resolve/compile telemetry")
	flag.Parse()

	if *dirFlag == "" {
		fmt.Fprintf(os.Stderr, "Usage: modhost -dir <path> [-entry index.js] [-v]\n")
		os.Exit(64)
	}

	logger := zap.NewNop()
	if *verboseFlag {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "modhost: building logger: %v\n", err)
			os.Exit(70)
		}
		logger = l
	}
	obs := modules.NewZapObserver(logger)

	bundleBase := jsurl.MustParse("file:///")
	builder := modules.NewBundleBuilder(bundleBase)
	host := enginetest.NewHost()

	entries, err := os.ReadDir(*dirFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "modhost: reading %s: %v\n", *dirFlag, err)
		os.Exit(70)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".js") {
			continue
		}
		path := filepath.Join(*dirFlag, e.Name())
		source, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "modhost: reading %s: %v\n", path, err)
			os.Exit(70)
		}
		specifier := "./" + e.Name()
		flags := modules.FlagsNone
		if e.Name() == *entryFlag {
			flags = modules.FlagMain
		}
		builder = builder.AddEsm(specifier, source, flags)

		url := jsurl.MustParse("file:///" + e.Name())
		host.Define(url.Href(), &enginetest.ModuleSpec{
			Eval: func(ctx context.Context, ns engine.Namespace) (bool, error) {
				return true, ns.Set("default", host.Undefined())
			},
		})
	}

	bundle, err := builder.Finish()
	if err != nil {
		fmt.Fprintf(os.Stderr, "modhost: building bundle: %v\n", err)
		os.Exit(70)
	}

	registry, err := modules.NewRegistryBuilder(bundleBase, obs, modules.OptionsNone).
		Add(bundle).
		Finish()
	if err != nil {
		fmt.Fprintf(os.Stderr, "modhost: building registry: %v\n", err)
		os.Exit(70)
	}

	iso := registry.AttachToIsolate(host)
	if *verboseFlag {
		fmt.Fprintf(os.Stderr, "modhost: isolate %s attached\n", iso.ID())
	}

	entryURL, ok := bundleBase.TryResolve("./" + *entryFlag)
	if !ok {
		fmt.Fprintf(os.Stderr, "modhost: invalid entry %q\n", *entryFlag)
		os.Exit(64)
	}

	ctx := context.Background()
	ns, err := iso.Require(ctx, modules.ResolveContext{
		Type:      modules.TypeBundle,
		Source:    modules.SourceInternal,
		Specifier: entryURL.Clone(jsurl.NormalizePath),
		Referrer:  bundleBase,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "modhost: requiring %s: %v\n", *entryFlag, err)
		os.Exit(1)
	}
	if ns == nil {
		fmt.Fprintf(os.Stderr, "modhost: entry point %s produced no namespace\n", *entryFlag)
		os.Exit(1)
	}
	fmt.Printf("modhost: %s loaded and evaluated\n", *entryFlag)
}
