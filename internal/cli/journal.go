package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/futuremsg"
	"github.com/spf13/cobra"
)

// JournalRecord is one decoded journal entry.
type JournalRecord struct {
	Sequence    uint64     `json:"sequence"`
	Kind        string     `json:"kind"`
	ID          string     `json:"id"`
	FireTime    *time.Time `json:"fire_time,omitempty"`
	Destination string     `json:"destination,omitempty"`
	Delta       string     `json:"delta,omitempty"`
	PayloadSize int        `json:"payload_size,omitempty"`
}

// NewJournalCommand creates the journal command group.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect a scheduler journal",
	}
	cmd.AddCommand(newJournalDumpCommand(rootOpts))
	return cmd
}

func newJournalDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}
	var from uint64

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print journal records in sequence order",
		Long: `Print every journal record of a scheduler, decoded.

Examples:
  futuremsg journal dump --dir /var/lib/futuremsg --name billing
  futuremsg journal dump --dir /var/lib/futuremsg --name billing --from 500 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournalDump(cmd, opts, from)
		},
	}
	opts.addFlags(cmd)
	cmd.Flags().Uint64Var(&from, "from", 1, "first sequence number to print")
	return cmd
}

func runJournalDump(cmd *cobra.Command, opts *StoreOptions, from uint64) error {
	ctx := context.Background()
	st, err := opts.open()
	if err != nil {
		return err
	}
	defer st.Close()

	var records []JournalRecord
	err = st.journal.Replay(ctx, from, func(seq uint64, data []byte) error {
		c, err := futuremsg.DecodeCommand(st.codec, data)
		if err != nil {
			return fmt.Errorf("sequence %d: %w", seq, err)
		}
		records = append(records, journalRecord(seq, c))
		return nil
	})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read journal", err)
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(out, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No journal records found")
		return nil
	}
	for _, r := range records {
		line := fmt.Sprintf("%8d  %s", r.Sequence, formatID(r.Kind, r.ID))
		if r.FireTime != nil {
			line += "  at " + r.FireTime.Format(time.RFC3339Nano)
		}
		if r.Destination != "" {
			line += "  -> " + r.Destination
		}
		if r.Delta != "" {
			line += "  by " + r.Delta
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func journalRecord(seq uint64, cmd futuremsg.Command) JournalRecord {
	r := JournalRecord{Sequence: seq, Kind: string(cmd.Kind()), ID: cmd.CommandID()}
	switch c := cmd.(type) {
	case futuremsg.Schedule:
		r.FireTime = &c.FireTime
		r.Destination = c.Destination
		r.PayloadSize = len(c.Payload)
	case futuremsg.UpdateFireTimeAbsolute:
		r.FireTime = &c.FireTime
	case futuremsg.UpdateFireTimeRelative:
		r.Delta = c.Delta.String()
	}
	return r
}
