package workload

import "github.com/spf13/cobra"

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workload",
		Short: "generate test workloads",
		Long: `Generate test workloads.

This tool can be used to write records to a set of nodes to test replication
under load.

Examples:
  # Start 10 clients, each writing 5 records a second to random nodes.
  setdb workload records --rate 5 --clients 10 \
    --servers http://localhost:8200,http://localhost:8201
`,
	}

	cmd.AddCommand(newRecordsCommand())

	return cmd
}
