package main

import (
	"fmt"
	"io"

	"autosend/internal/storage"
)

func printHistory(w io.Writer, recs []storage.SendRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, gray("no sends recorded"))
		return
	}
	for _, r := range recs {
		mark := green("ok  ")
		if !r.OK {
			mark = red("FAIL")
		}
		fmt.Fprintf(w, "%s %s %-9s %-7s %q attempts=%d took=%dms",
			r.At.Format("2006-01-02 15:04:05"), mark, r.Kind, r.Stage, r.Target, r.Attempts, r.TookMS)
		if r.Error != "" {
			fmt.Fprintf(w, " %s", red(r.Error))
		}
		fmt.Fprintln(w)
	}
}
