package status

import "github.com/spf13/cobra"

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "inspect node status",
		Long: `Inspect node status.

Each node exposes a status API to inspect the state of the node, this can be
used to answer questions such as:
* Is the node ready to accept writes?
* What is the content address of the node's latest snapshot?
* How many records does the node hold?

See 'status --help' for the available commands.

Examples:
  # Inspect the replication state of the local node.
  setdb status replication

  # Inspect the replication state of node 10.26.104.56:8200.
  setdb status replication --server.url http://10.26.104.56:8200
`,
	}

	cmd.AddCommand(newReplicationCommand())

	return cmd
}
