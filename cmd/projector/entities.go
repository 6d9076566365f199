package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"projector/internal/event"
)

var (
	entityTypeFlag string
	documentFile   string
)

var saveCmd = &cobra.Command{
	Use:   "save [entity-id] <document>",
	Short: "Append a save event; without an id a new entity is created",
	Long: `Append a save event carrying a JSON merge-patch document.

The document is the last argument, or read from --file ("-" for stdin).
Without an entity id a new one is generated and printed.`,
	Args: cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var idArg, docArg string
		switch {
		case len(args) == 2:
			idArg, docArg = args[0], args[1]
		case len(args) == 1 && documentFile != "":
			idArg = args[0]
		case len(args) == 1:
			docArg = args[0]
		}

		doc, err := readDocumentArg(cmd.InOrStdin(), docArg, documentFile)
		if err != nil {
			return err
		}

		var id *uuid.UUID
		if idArg != "" {
			parsed, err := uuid.Parse(idArg)
			if err != nil {
				return fmt.Errorf("invalid entity id %q: %w", idArg, err)
			}
			id = &parsed
		}

		a, err := openApp(cmd, false, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		saved, err := a.svc.Save(cmd.Context(), id, event.Type(entityTypeFlag), doc)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), saved)
		return nil
	},
}

var dropCmd = &cobra.Command{
	Use:   "drop <entity-id>",
	Short: "Append a drop event (tombstone)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid entity id %q: %w", args[0], err)
		}

		a, err := openApp(cmd, false, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.svc.Drop(cmd.Context(), id, event.Type(entityTypeFlag))
	},
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Print the projection of every live entity as JSON lines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd, false, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		ps, err := a.svc.Aggregate(cmd.Context(), event.Filter{Type: event.Type(entityTypeFlag)})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, p := range ps {
			if err := enc.Encode(p); err != nil {
				return err
			}
		}
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events <entity-id>",
	Short: "Print the event timeline of one entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid entity id %q: %w", args[0], err)
		}

		a, err := openApp(cmd, false, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		evs, err := a.svc.Timeline(cmd.Context(), id)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, e := range evs {
			doc := "-"
			if e.Document != nil {
				b, err := json.Marshal(e.Document)
				if err != nil {
					return err
				}
				doc = string(b)
			}
			fmt.Fprintf(out, "%d\t%s\t%s\t%s\t%s\n", e.Seq, e.Added.Format(time.RFC3339Nano), e.Kind, e.Type, doc)
		}
		return nil
	},
}

func readDocumentArg(stdin io.Reader, arg, file string) (json.RawMessage, error) {
	switch {
	case file == "-":
		return io.ReadAll(stdin)
	case file != "":
		return os.ReadFile(file)
	case arg != "":
		return json.RawMessage(arg), nil
	}
	return nil, errors.New("no document given")
}

func parseTTL(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid ttl %q: %w", s, err)
	}
	return d, nil
}

func init() {
	for _, c := range []*cobra.Command{saveCmd, dropCmd, aggregateCmd} {
		c.Flags().StringVarP(&entityTypeFlag, "type", "t", "", "entity type")
	}
	saveCmd.Flags().StringVarP(&documentFile, "file", "f", "", `read the document from a file ("-" for stdin)`)
}
