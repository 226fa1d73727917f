package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/rbaliyan/futuremsg/codec"
	"github.com/rbaliyan/futuremsg/journal"
	"github.com/rbaliyan/futuremsg/snapshot"
	"github.com/spf13/cobra"
)

// StoreOptions selects the badger directory and scheduler to inspect.
type StoreOptions struct {
	*RootOptions
	Dir   string
	Name  string
	Codec string
}

func (o *StoreOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Dir, "dir", "", "badger data directory (required)")
	cmd.Flags().StringVar(&o.Name, "name", "", "scheduler name (required)")
	cmd.Flags().StringVar(&o.Codec, "codec", "json", "record codec")
	_ = cmd.MarkFlagRequired("dir")
	_ = cmd.MarkFlagRequired("name")
}

type stores struct {
	journal   *journal.Badger
	snapshots *snapshot.Badger
	codec     codec.Codec
}

func (s *stores) Close() {
	s.journal.Close(context.Background())
}

// open opens the journal and snapshot store sharing one badger database.
func (o *StoreOptions) open() (*stores, error) {
	c, err := codec.Lookup(o.Codec)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid codec", err)
	}
	if _, err := os.Stat(o.Dir); err != nil {
		return nil, WrapExitError(ExitCommandError, "data directory not found", err)
	}
	j, err := journal.OpenBadger(o.Dir, o.Name)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	snaps, err := snapshot.NewBadger(j.DB(), o.Name)
	if err != nil {
		j.Close(context.Background())
		return nil, WrapExitError(ExitCommandError, "failed to open snapshots", err)
	}
	return &stores{journal: j, snapshots: snaps, codec: c}, nil
}

func formatID(kind, id string) string {
	return fmt.Sprintf("%-16s %s", kind, id)
}
