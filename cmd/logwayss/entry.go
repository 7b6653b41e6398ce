package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/logwayss/logwayss/pkg/core"
	"github.com/logwayss/logwayss/pkg/entry"
)

type addOptions struct {
	Type     string
	Tags     []string
	Source   string
	DeviceID string
	Meta     []string
	Text     string
}

type queryOptions struct {
	Type   string
	From   string
	To     string
	Tags   []string
	Limit  int
	Offset int
	JSON   bool
}

var (
	addOpts   addOptions
	queryOpts queryOptions
	tagsJSON  bool

	getCopy       bool
	getClearAfter time.Duration
)

func init() {
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(tagsCmd)

	addCmd.Flags().StringVarP(&addOpts.Type, "type", "t", string(entry.TypeText), "Entry type: text, markdown, metrics, media_ref, event, log")
	addCmd.Flags().StringSliceVar(&addOpts.Tags, "tag", nil, "Tag (repeatable or comma-separated)")
	addCmd.Flags().StringVar(&addOpts.Source, "source", "", "Where the entry came from")
	addCmd.Flags().StringVar(&addOpts.DeviceID, "device", "", "Device identifier")
	addCmd.Flags().StringArrayVar(&addOpts.Meta, "meta", nil, "Metadata key=value (repeatable; JSON values are decoded)")
	addCmd.Flags().StringVar(&addOpts.Text, "text", "", `Plain text payload, stored as {"text": ...}`)

	queryCmd.Flags().StringVarP(&queryOpts.Type, "type", "t", "", "Only entries of this type")
	queryCmd.Flags().StringVar(&queryOpts.From, "from", "", "Created at or after (RFC 3339 or YYYY-MM-DD)")
	queryCmd.Flags().StringVar(&queryOpts.To, "to", "", "Created at or before (RFC 3339 or YYYY-MM-DD)")
	queryCmd.Flags().StringSliceVar(&queryOpts.Tags, "tag", nil, "Required tag (repeatable; entries must carry all)")
	queryCmd.Flags().IntVar(&queryOpts.Limit, "limit", 0, "Maximum number of entries (default: query.default_limit, 0 for no limit)")
	queryCmd.Flags().IntVar(&queryOpts.Offset, "offset", 0, "Number of entries to skip")
	queryCmd.Flags().BoolVar(&queryOpts.JSON, "json", false, "Print entries as JSON, payloads included")

	getCmd.Flags().BoolVarP(&getCopy, "copy", "c", false, "Copy the payload to the clipboard instead of printing the entry")
	getCmd.Flags().DurationVar(&getClearAfter, "clear-after", 0, "With --copy, wait and then clear the clipboard (e.g., 30s)")

	tagsCmd.Flags().BoolVar(&tagsJSON, "json", false, "Print tags as JSON")

	for _, c := range []*cobra.Command{addCmd, queryCmd} {
		_ = c.RegisterFlagCompletionFunc("type", completeTypes)
	}
}

// addCmd stores a new entry
var addCmd = &cobra.Command{
	Use:   "add [payload]",
	Short: "Encrypts and stores a new entry",
	Long: `Encrypts and stores a new entry and prints its id.

The payload is any JSON value. It is read from the argument, from a file
with @path, or from stdin when the argument is omitted or "-". Use --text
for a plain text note instead.`,
	Example: `  logwayss add --text "slept badly" --tag sleep
  logwayss add -t metrics '{"steps": 10412}' --meta confidence=0.9
  cat note.json | logwayss add -t event -`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Build the entry first so bad input fails before the password prompt
		n, err := buildNewEntry(addOpts, args, cmd.InOrStdin())
		if err != nil {
			return err
		}

		c, err := openProfile(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Lock()

		e, err := c.CreateEntry(cmd.Context(), n)
		if err != nil {
			return fmt.Errorf("failed to add entry: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), e.ID)
		return nil
	},
}

// getCmd prints one decrypted entry
var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Decrypts and prints an entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openProfile(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Lock()

		e, err := c.GetEntry(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get entry: %w", err)
		}
		if !getCopy {
			return printJSON(cmd.OutOrStdout(), e)
		}

		text := clipboardText(e.Payload)
		if err := copyToClipboard(text); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Payload copied to clipboard")
		if getClearAfter <= 0 {
			return nil
		}

		// The key is not needed while waiting to clear
		c.Lock()
		fmt.Fprintf(os.Stderr, "Clearing clipboard in %s...\n", getClearAfter)
		return clearClipboardAfter(cmd.Context(), text, getClearAfter)
	},
}

// queryCmd lists entries, newest first
var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Lists entries newest first",
	Long: `Lists entries newest first. Filters combine: an entry must match the
type, fall inside the time range and carry every --tag given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := queryOpts
		if !cmd.Flags().Changed("limit") {
			opts.Limit = cfg.Query.DefaultLimit
		}

		c, err := openProfile(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Lock()

		return runQuery(cmd.Context(), c, opts, cmd.OutOrStdout())
	},
}

// tagsCmd lists tags in use
var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "Lists tags with entry counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openProfile(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Lock()

		return runTags(cmd.Context(), c, tagsJSON, cmd.OutOrStdout())
	},
}

// buildNewEntry turns add flags and arguments into an entry.New. Field
// rules are left to the store.
func buildNewEntry(opts addOptions, args []string, stdin io.Reader) (entry.New, error) {
	meta, err := parseMeta(opts.Meta)
	if err != nil {
		return entry.New{}, err
	}

	var payload []byte
	switch {
	case opts.Text != "" && len(args) > 0:
		return entry.New{}, errors.New("use either --text or a payload argument, not both")
	case opts.Text != "":
		payload, err = json.Marshal(map[string]string{"text": opts.Text})
	default:
		arg := ""
		if len(args) > 0 {
			arg = args[0]
		}
		payload, err = readPayload(arg, stdin)
	}
	if err != nil {
		return entry.New{}, err
	}

	return entry.New{
		Type:     entry.Type(opts.Type),
		Tags:     opts.Tags,
		Source:   opts.Source,
		DeviceID: opts.DeviceID,
		Meta:     meta,
		Payload:  payload,
	}, nil
}

// readPayload reads a payload from arg: a literal, @path, or stdin for "" and "-".
func readPayload(arg string, stdin io.Reader) ([]byte, error) {
	switch {
	case arg == "" || arg == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload from stdin: %w", err)
		}
		return data, nil
	case strings.HasPrefix(arg, "@"):
		data, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to read payload file: %w", err)
		}
		return data, nil
	default:
		return []byte(arg), nil
	}
}

// parseMeta parses key=value pairs. Values that parse as JSON keep their
// JSON type; anything else is a string.
func parseMeta(pairs []string) (entry.Meta, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(entry.Meta, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --meta %q (expected key=value)", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			meta[key] = decoded
		} else {
			meta[key] = value
		}
	}
	return meta, nil
}

// runQuery prints matching entries. Rows that fail their integrity check
// are reported after the rows that decrypted.
func runQuery(ctx context.Context, c *core.Core, opts queryOptions, w io.Writer) error {
	filter := entry.Filter{
		Type: entry.Type(opts.Type),
		Time: entry.TimeRange{From: opts.From, To: opts.To},
		Tags: opts.Tags,
	}
	entries, err := c.Query(ctx, filter, &entry.Pagination{Limit: opts.Limit, Offset: opts.Offset})

	var ierr *core.QueryIntegrityError
	if err != nil && !errors.As(err, &ierr) {
		return fmt.Errorf("failed to query entries: %w", err)
	}

	if opts.JSON {
		if entries == nil {
			entries = []*entry.Entry{}
		}
		if perr := printJSON(w, entries); perr != nil {
			return perr
		}
	} else if len(entries) == 0 && ierr == nil {
		fmt.Fprintln(w, "No entries found")
	} else {
		for _, e := range entries {
			fmt.Fprintln(w, formatEntryLine(e))
		}
	}

	if ierr != nil {
		return fmt.Errorf("query incomplete: %w", ierr)
	}
	return nil
}

// formatEntryLine renders "ID CREATED TYPE [tags]".
func formatEntryLine(e *entry.Entry) string {
	line := fmt.Sprintf("%s %s %s", e.ID, e.CreatedAt.Local().Format(time.DateTime), e.Type)
	if len(e.Tags) > 0 {
		line += fmt.Sprintf(" [%s]", strings.Join(e.Tags, ","))
	}
	return line
}

func runTags(ctx context.Context, c *core.Core, asJSON bool, w io.Writer) error {
	tags, err := c.ListTags(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tags: %w", err)
	}
	if asJSON {
		if tags == nil {
			tags = []core.TagCount{}
		}
		return printJSON(w, tags)
	}
	if len(tags) == 0 {
		fmt.Fprintln(w, "No tags in use")
		return nil
	}
	for _, t := range tags {
		fmt.Fprintf(w, "%s %d\n", t.Tag, t.Count)
	}
	return nil
}
