package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
)

func runAdd(ctx context.Context, app *app, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("expected <url> <save-dir>, got %d arguments", len(args))
	}
	_, err := app.sync.Add(ctx, args[0], args[1], progressSink())
	return err
}

func runList(ctx context.Context, app *app) error {
	releases, err := app.sync.List(ctx)
	if err != nil {
		return err
	}
	if len(releases) == 0 {
		fmt.Println("No torrents tracked")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSAVE PATH\tURL")
	for _, rel := range releases {
		fmt.Fprintf(w, "%s\t%s\t%s\n", rel.ID, rel.SavePath, rel.SourceURL)
	}
	return w.Flush()
}

func runSync(ctx context.Context, app *app) error {
	outcomes, err := app.sync.SyncAll(ctx, progressSink())
	if err != nil {
		return err
	}

	failed := 0
	for _, o := range outcomes {
		if !o.OK {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d releases failed", failed, len(outcomes))
	}
	return nil
}

func runRemove(ctx context.Context, app *app, args []string) error {
	flags := pflag.NewFlagSet("remove", pflag.ContinueOnError)
	deleteFiles := flags.Bool("delete-files", false, "also delete downloaded data and archived torrents")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("expected <id>, got %d arguments", flags.NArg())
	}

	_, err := app.sync.Remove(ctx, flags.Arg(0), *deleteFiles, progressSink())
	return err
}

func runHistory(ctx context.Context, app *app, args []string) error {
	flags := pflag.NewFlagSet("history", pflag.ContinueOnError)
	limit := flags.IntP("limit", "n", 20, "number of entries to show")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("expected <id>, got %d arguments", flags.NArg())
	}

	entries, err := app.sync.History(ctx, flags.Arg(0), *limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No sync history")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tRUN\tRESULT\tMESSAGE")
	for _, e := range entries {
		result := "ok"
		if !e.OK {
			result = string(e.Reason)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.CreatedAt.Local().Format(time.DateTime), e.RunID, result, e.Message)
	}
	return w.Flush()
}
