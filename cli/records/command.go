package records

import (
	"github.com/spf13/cobra"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "read and write records",
		Long: `Read and write records.

Sends requests to the admin server of a node. Writes are replicated to every
other node on the same topic.

See 'records --help' for the available commands.

Examples:
  # List all records.
  setdb records list

  # List records whose 'name' field is 'foo'.
  setdb records list --filter name=foo

  # Get the record with key 'bbc69214'.
  setdb records get bbc69214

  # Write a record.
  setdb records put '{"_id": "bbc69214", "name": "foo"}'

  # Inspect records on node 10.26.104.56:8200.
  setdb records list --server.url http://10.26.104.56:8200
`,
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newPutCommand())

	return cmd
}
