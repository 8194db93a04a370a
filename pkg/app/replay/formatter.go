package replay

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// FormatOutput formats replay results according to output format
func FormatOutput(w io.Writer, response *Response, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(response)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		encoder.SetIndent(2)
		return encoder.Encode(response)
	case "table":
		return formatTable(w, response)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func formatTable(w io.Writer, response *Response) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "BLOCK\tOP\tAREA\tOUTCOME\tCHANGED\n")
	fmt.Fprintf(tw, "-----\t--\t----\t-------\t-------\n")
	for _, r := range response.Results {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", r.Block, r.Op, r.Area, r.Outcome, r.Changed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\n%d access(es): %d corrupted, %d failed; wrote %s in %v\n",
		response.Summary.Accesses, response.Summary.Corrupted, response.Summary.Failed, response.Out, response.Elapsed)
	return err
}

// FormatSummary provides a brief summary for verbose output
func FormatSummary(response *Response) string {
	if response.Summary.Corrupted == 0 && response.Summary.Failed == 0 {
		return "No access was affected"
	}
	return fmt.Sprintf("%d of %d access(es) affected", response.Summary.Corrupted+response.Summary.Failed, response.Summary.Accesses)
}
