package main

import (
	"fmt"
	"io"

	"datamakelaar/pkg/service"
	"datamakelaar/pkg/writeback"
)

func printUpload(w io.Writer, u *service.Upload) {
	r := u.Report
	fmt.Fprintf(w, "%s: %d rows, %d critical, %d warnings\n", u.Source, r.RowCount, len(r.Critical), len(r.Warnings))
	for _, i := range r.Critical {
		fmt.Fprintf(w, "  CRITICAL %s\n", i)
	}
	for _, i := range r.Warnings {
		fmt.Fprintf(w, "  WARNING  %s\n", i)
	}
	if !r.OK() {
		return
	}
	fmt.Fprintf(w, "%d changed objects\n", len(u.Changes))
	for _, c := range u.Changes {
		fmt.Fprintf(w, "  row %d %s\n", c.Row, c.Object.Identifier)
		for _, a := range c.Attributes {
			fmt.Fprintf(w, "    %s: %s -> %s\n", a.Column, show(a.Old), show(a.New))
		}
	}
}

func printResult(w io.Writer, res *writeback.Result) {
	fmt.Fprintf(w, "Submitted %d of %d objects in %d batches, %d failed\n", res.Succeeded, res.Total, res.Batches, res.Failed)
	if res.Created > 0 {
		fmt.Fprintf(w, "  %d created, %d updated\n", res.Created, res.Updated)
	}
	for _, f := range res.Failures {
		if f.Identifier != "" {
			fmt.Fprintf(w, "  batch %d %s: %s\n", f.Batch, f.Identifier, f.Message)
		} else {
			fmt.Fprintf(w, "  batch %d: %s\n", f.Batch, f.Message)
		}
	}
	if res.Aborted {
		fmt.Fprintln(w, "Stopped early, later batches were not sent")
	}
}

func show(v interface{}) string {
	if v == nil {
		return "(leeg)"
	}
	return fmt.Sprint(v)
}
