package cli

import (
	"github.com/spf13/cobra"

	"github.com/andydunstall/setdb/cli/hub"
	"github.com/andydunstall/setdb/cli/node"
	"github.com/andydunstall/setdb/cli/records"
	"github.com/andydunstall/setdb/cli/status"
	"github.com/andydunstall/setdb/cli/workload"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "setdb [command] (flags)",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Long: `SetDB is a replicated, grow-only set of JSON records.

Each node holds a full replica of the set. Records written to any node are
replicated to every other node on the same topic. Once a record is added it
is never replaced or removed, so every node converges to the same set.

Nodes replicate through the hub. Each node stores snapshots of its set in the
hub, addressed by the hash of their content, and gossips the snapshot hash to
its peers. Peers fetch the snapshot and merge in any records they're missing.

Start the hub with:

  $ setdb hub

Then start any number of nodes with:

  $ setdb node --admin.bind-addr :8200

You can read and write records using:

  $ setdb records put '{"_id": "1", "name": "foo"}'
  $ setdb records list

And inspect the state of a node using:

  $ setdb status replication
`,
	}

	cmd.AddCommand(hub.NewCommand())
	cmd.AddCommand(node.NewCommand())
	cmd.AddCommand(records.NewCommand())
	cmd.AddCommand(status.NewCommand())
	cmd.AddCommand(workload.NewCommand())

	return cmd
}

func init() {
	cobra.EnableCommandSorting = false
}
