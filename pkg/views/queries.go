package views

import (
	"fmt"
	"io"
	"time"

	"finance-client/pkg/query"
)

// Queries renders a cache snapshot.
func Queries(w io.Writer, infos []query.Info, now time.Time) error {
	if len(infos) == 0 {
		_, err := fmt.Fprintln(w, "Cache is empty.")
		return err
	}

	tw := table(w)
	fmt.Fprintln(tw, "KEY\tSTATE\tUPDATED\tSUBSCRIBERS\tVERSION\tERROR")
	for _, info := range infos {
		state := info.State.String()
		if info.Invalidated {
			state += " (invalidated)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			info.Key, state, Since(info.UpdatedAt, now), info.Subscribers, info.Version, orDash(info.Error))
	}
	return tw.Flush()
}

// Conflicts lists discarded mutation responses.
func Conflicts(w io.Writer, conflicts []query.Conflict) error {
	if len(conflicts) == 0 {
		_, err := fmt.Fprintln(w, "No conflicts.")
		return err
	}
	for _, c := range conflicts {
		if _, err := fmt.Fprintf(w, "%s %s\n", c.At.Format(time.RFC3339), c); err != nil {
			return err
		}
	}
	return nil
}
