package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/entrhq/browsergrid/pkg/types"
)

// deviceLister is implemented by the mobile resolvers.
type deviceLister interface {
	Devices(ctx context.Context) ([]types.MobileDevice, error)
}

func validateCommand(ctx context.Context, args []string, out io.Writer) error {
	var common commonFlags
	var browsers string
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(out)
	common.register(fs)
	fs.StringVar(&browsers, "browsers", "", "Comma separated browsers to check (default all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := newEnv(&common)
	if err != nil {
		return err
	}
	defer e.close()

	list := parseBrowserList(browsers)
	if len(list) == 0 {
		list = e.registry.Supported()
	}

	fmt.Fprintln(out, titleStyle.Render("Browser backends"))
	usable := 0
	for _, bt := range list {
		res, err := e.registry.Get(bt)
		if err != nil {
			fmt.Fprintln(out, backendLine(bt, false, err.Error()))
			continue
		}

		ok, err := res.ValidateInstallation(ctx)
		detail := ""
		if path, perr := res.BinaryPath(); perr == nil {
			detail = path
		}
		if err != nil {
			detail = err.Error()
		}
		fmt.Fprintln(out, backendLine(bt, ok, detail))
		if ok {
			usable++
		}

		if lister, isMobile := res.(deviceLister); isMobile && ok {
			devices, err := lister.Devices(ctx)
			if err != nil {
				e.logger.Warnf("Failed to list %s devices: %v", bt, err)
				continue
			}
			for _, d := range devices {
				fmt.Fprintln(out, mutedStyle.Render("    "+d.String()))
			}
		}
	}

	fmt.Fprintf(out, "\n%d of %d backends usable\n", usable, len(list))
	return nil
}
