package classify

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// FormatOutput formats classification results according to output format
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

	fmt.Fprintf(tw, "BLOCK\tAREA\tDETAIL\tKEYS\n")
	fmt.Fprintf(tw, "-----\t----\t------\t----\n")
	for _, b := range response.Blocks {
		detail := b.Detail
		if b.Device != "" {
			detail = strings.TrimSpace(detail + " dev " + b.Device)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", b.Block, b.Area, detail, strings.Join(b.Keys, " "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	mode := "partial"
	if response.Full {
		mode = "full"
	}
	_, err := fmt.Fprintf(w, "\n%s: %s, %s context, %d block(s)\n", response.Image, response.FS, mode, len(response.Blocks))
	return err
}
