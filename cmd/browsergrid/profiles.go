package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/entrhq/browsergrid/pkg/profile"
	"github.com/entrhq/browsergrid/pkg/types"
)

type profileFlags struct {
	commonFlags
	browser     string
	id          string
	name        string
	pattern     string
	tags        string
	description string
	archive     string
	defaults    bool
	asJSON      bool
}

func parseProfileFlags(action string, args []string, out io.Writer) (*profileFlags, error) {
	f := &profileFlags{}
	fs := flag.NewFlagSet("profiles "+action, flag.ContinueOnError)
	fs.SetOutput(out)
	f.register(fs)
	fs.StringVar(&f.browser, "browser", "chrome", "Browser type of the profile store")
	fs.StringVar(&f.id, "id", "", "Profile id")
	fs.StringVar(&f.name, "name", "", "Profile name (list: exact match)")
	fs.StringVar(&f.pattern, "pattern", "", "Glob matched against profile names")
	fs.StringVar(&f.tags, "tags", "", "Comma separated tags")
	fs.StringVar(&f.description, "description", "", "Profile description")
	fs.StringVar(&f.archive, "archive", "", "Archive to import")
	fs.BoolVar(&f.defaults, "default", false, "Create the browser's default profile")
	fs.BoolVar(&f.asJSON, "json", false, "Print JSON")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func profilesCommand(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("profiles: action required (list, show, create, delete, export, import)")
	}
	action := args[0]
	f, err := parseProfileFlags(action, args[1:], out)
	if err != nil {
		return err
	}

	e, err := newEnv(&f.commonFlags)
	if err != nil {
		return err
	}
	defer e.close()

	store, err := e.profiles.For(types.ParseBrowserType(f.browser))
	if err != nil {
		return err
	}
	return runProfileAction(ctx, store, action, f, out)
}

func runProfileAction(ctx context.Context, store *profile.Store, action string, f *profileFlags, out io.Writer) error {
	switch action {
	case "list":
		profiles, err := store.List(ctx, profile.Filter{
			Name:        f.name,
			NamePattern: f.pattern,
			Tags:        splitList(f.tags),
		})
		if err != nil {
			return err
		}
		if f.asJSON {
			return printJSON(out, profiles)
		}
		if len(profiles) == 0 {
			fmt.Fprintf(out, "No %s profiles.\n", store.BrowserType())
			return nil
		}
		for _, p := range profiles {
			fmt.Fprintln(out, profileLine(p))
		}
		return nil

	case "show":
		if f.id == "" {
			return fmt.Errorf("show: -id is required")
		}
		p, err := store.Get(ctx, f.id)
		if err != nil {
			return err
		}
		return printJSON(out, p)

	case "create":
		var p *profile.Profile
		var err error
		if f.defaults {
			p, err = store.CreateDefault(ctx)
		} else {
			p, err = store.Create(ctx, profile.Spec{
				Name: f.name,
				Metadata: profile.Metadata{
					Description: f.description,
					Tags:        splitList(f.tags),
				},
			})
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Created %s\n", profileLine(p))
		return nil

	case "delete":
		if f.id == "" {
			return fmt.Errorf("delete: -id is required")
		}
		deleted, err := store.Delete(ctx, f.id)
		if err != nil {
			return err
		}
		if !deleted {
			fmt.Fprintf(out, "No profile %s\n", f.id)
			return nil
		}
		fmt.Fprintf(out, "Deleted %s\n", f.id)
		return nil

	case "export":
		if f.id == "" {
			return fmt.Errorf("export: -id is required")
		}
		path, err := store.Export(ctx, f.id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Exported %s to %s\n", f.id, path)
		return nil

	case "import":
		if f.archive == "" {
			return fmt.Errorf("import: -archive is required")
		}
		p, err := store.Import(ctx, f.archive)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Imported %s\n", profileLine(p))
		return nil
	}
	return fmt.Errorf("profiles: unknown action %q", action)
}

func profileLine(p *profile.Profile) string {
	line := fmt.Sprintf("%s  %s", p.ID, titleStyle.Render(p.Name))
	if len(p.Metadata.Tags) > 0 {
		line += " " + mutedStyle.Render("["+strings.Join(p.Metadata.Tags, ", ")+"]")
	}
	line += " " + mutedStyle.Render("last used "+p.LastUsed.Format(time.RFC3339))
	return line
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
