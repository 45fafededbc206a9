package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

func main() {
	app := NewApp()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if err := app.Startup(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer app.Shutdown()

	// Datasets named on the command line are registered before the REPL.
	for _, path := range os.Args[1:] {
		ds, err := app.RegisterDatasetFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", path, err)
			continue
		}
		fmt.Printf("loaded dataset %s (%s): %d rows\n", ds.ID, ds.Name, ds.RowCount)
	}

	sessionID := app.NewSession()
	fmt.Println("Ask a question about your data (\"exit\" to quit, \"datasets\", \"use <id>\", \"history\", \"clear\"):")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			return
		case line == "datasets":
			for _, ds := range app.ListDatasets() {
				fmt.Printf("- %s (%s): %d rows, %d columns\n", ds.ID, ds.Name, ds.RowCount, len(ds.Columns))
			}
			continue
		case strings.HasPrefix(line, "use "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "use "))
			if err := app.SetActiveDataset(sessionID, id); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			} else {
				fmt.Printf("active dataset: %s\n", id)
			}
			continue
		case line == "history":
			msgs, err := app.History(sessionID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				continue
			}
			for _, m := range msgs {
				fmt.Printf("[%s] %s\n", m.Role, m.Content)
			}
			continue
		case line == "clear":
			if err := app.ClearSession(sessionID); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			} else {
				fmt.Println("session cleared")
			}
			continue
		}

		resp, err := app.Analyze(ctx, sessionID, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(resp.Answer)
		if resp.Table != nil {
			fmt.Printf("[table: %d rows x %d columns]\n", len(resp.Table.Rows), len(resp.Table.Columns))
		}
		if resp.Plot != nil {
			fmt.Printf("[plot: %s with %d points]\n", resp.Plot.Type, len(resp.Plot.Y))
		}
		if resp.Degraded {
			fmt.Printf("[degraded: %s]\n", resp.ErrorKind)
		}
	}
}
