package status

import (
	"context"
	"fmt"
	"net/url"
	"os"

	yaml "github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/andydunstall/setdb/client"
	"github.com/andydunstall/setdb/client/config"
)

func newReplicationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replication",
		Short: "inspect replication state",
		Long: `Inspect replication state.

Queries the node for the state of its replication engine, including the
engine state, the content address of its latest snapshot and the number of
records it holds.

Nodes that hold the same set have the same snapshot hash.

Examples:
  setdb status replication
`,
	}

	var conf config.Config
	conf.RegisterFlags(cmd.Flags())

	cmd.Run = func(cmd *cobra.Command, args []string) {
		if err := conf.Validate(); err != nil {
			fmt.Printf("invalid config: %s\n", err.Error())
			os.Exit(1)
		}

		showReplication(&conf)
	}

	return cmd
}

func showReplication(conf *config.Config) {
	// The URL has already been validated in conf.
	url, _ := url.Parse(conf.Server.URL)
	client := client.NewClient(url, client.WithTimeout(conf.Server.Timeout))
	defer client.Close()

	s, err := client.ReplicationStatus(context.Background())
	if err != nil {
		fmt.Printf("failed to get replication status: %s\n", err.Error())
		os.Exit(1)
	}

	b, _ := yaml.Marshal(s)
	fmt.Println(string(b))
}
