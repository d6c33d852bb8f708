package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/atinyakov/PLMSync/internal/engine"
	"github.com/atinyakov/PLMSync/internal/models"
)

func resultLabel(r engine.Result) string {
	id := r.ItemNumber
	if id == "" {
		id = r.ItemID
	}
	return fmt.Sprintf("%s %s %s", r.Operation, r.ItemType, id)
}

func printResult(w io.Writer, r engine.Result) {
	fmt.Fprintf(w, "%s: %s\n", resultLabel(r), r.Outcome)
	if r.LocalPath != "" {
		fmt.Fprintf(w, "  local file: %s\n", r.LocalPath)
	}
	if r.RegistryFileID != "" {
		fmt.Fprintf(w, "  registry file: %s\n", r.RegistryFileID)
	}
	if r.NoFileAttached {
		fmt.Fprintln(w, "  no file attached yet")
	}
	for _, msg := range r.WarningMessages() {
		fmt.Fprintf(w, "  warning: %s\n", msg)
	}
	if r.Err != nil {
		fmt.Fprintf(w, "  error [%s]: %v\n", r.Code(), r.Err)
	}
}

func printBatch(w io.Writer, b engine.BatchResult) {
	for _, r := range b.Items {
		printResult(w, r)
	}
	fmt.Fprintf(w, "%d succeeded (%d with warnings), %d failed\n", b.Succeeded, b.Warned, b.Failed)
}

func printItems(w io.Writer, items []models.Item) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No items found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM NUMBER\tNAME\tSTATE\tREV\tLOCKED BY\tID")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", it.ItemNumber, it.Name, it.State, it.Revision, it.LockedBy, it.ID)
	}
	_ = tw.Flush()
}
