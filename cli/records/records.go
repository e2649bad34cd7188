package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	yaml "github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/andydunstall/setdb/client"
	"github.com/andydunstall/setdb/client/config"
	"github.com/andydunstall/setdb/pkg/record"
	"github.com/andydunstall/setdb/pkg/status"
)

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list records",
		Long: `List records.

Queries the node for its records in key order. Use '--filter' to only return
records whose field matches the given value. Filters on numeric fields use
the number as written, such as '--filter age=30'.

Examples:
  setdb records list

  setdb records list --filter name=foo --filter age=30
`,
	}

	var conf config.Config
	conf.RegisterFlags(cmd.Flags())

	var filters []string
	cmd.Flags().StringArrayVar(
		&filters,
		"filter",
		nil,
		`
Only list records whose field matches the given value, in the form
'<field>=<value>'.`,
	)

	cmd.Run = func(cmd *cobra.Command, args []string) {
		if err := conf.Validate(); err != nil {
			fmt.Printf("invalid config: %s\n", err.Error())
			os.Exit(1)
		}

		parsed, err := parseFilters(filters)
		if err != nil {
			fmt.Printf("invalid filter: %s\n", err.Error())
			os.Exit(1)
		}

		listRecords(&conf, parsed)
	}

	return cmd
}

type recordsOutput struct {
	Records []record.Record `json:"records"`
}

func listRecords(conf *config.Config, filters map[string]string) {
	client := newClient(conf)
	defer client.Close()

	records, err := client.Records(context.Background(), filters)
	if err != nil {
		fmt.Printf("failed to list records: %s\n", err.Error())
		os.Exit(1)
	}

	output := recordsOutput{
		Records: records,
	}
	b, _ := yaml.Marshal(output)
	fmt.Println(string(b))
}

func newGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Args:  cobra.ExactArgs(1),
		Short: "get a record",
		Long: `Get a record.

Queries the node for the record with the given key.

Examples:
  setdb records get bbc69214
`,
	}

	var conf config.Config
	conf.RegisterFlags(cmd.Flags())

	cmd.Run = func(cmd *cobra.Command, args []string) {
		if err := conf.Validate(); err != nil {
			fmt.Printf("invalid config: %s\n", err.Error())
			os.Exit(1)
		}

		getRecord(args[0], &conf)
	}

	return cmd
}

func getRecord(id string, conf *config.Config) {
	client := newClient(conf)
	defer client.Close()

	r, err := client.Record(context.Background(), id)
	if err != nil {
		var errorInfo *status.ErrorInfo
		if errors.As(err, &errorInfo) && errorInfo.StatusCode == http.StatusNotFound {
			fmt.Printf("record not found: %s\n", id)
			os.Exit(1)
		}
		fmt.Printf("failed to get record: %s: %s\n", id, err.Error())
		os.Exit(1)
	}

	b, _ := yaml.Marshal(r)
	fmt.Println(string(b))
}

func newPutCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put",
		Args:  cobra.ExactArgs(1),
		Short: "write a record",
		Long: `Write a record.

Writes the given JSON object to the node. Use '-' to read the record from
stdin.

The record is only added if its key doesn't already exist in the set and it
passes the node's validator. Existing records are never replaced.

Examples:
  setdb records put '{"_id": "bbc69214", "name": "foo"}'

  cat record.json | setdb records put -
`,
	}

	var conf config.Config
	conf.RegisterFlags(cmd.Flags())

	cmd.Run = func(cmd *cobra.Command, args []string) {
		if err := conf.Validate(); err != nil {
			fmt.Printf("invalid config: %s\n", err.Error())
			os.Exit(1)
		}

		var src io.Reader = strings.NewReader(args[0])
		if args[0] == "-" {
			src = os.Stdin
		}
		r, err := readRecord(src)
		if err != nil {
			fmt.Printf("invalid record: %s\n", err.Error())
			os.Exit(1)
		}

		putRecord(r, &conf)
	}

	return cmd
}

type putOutput struct {
	Added bool `json:"added"`
}

func putRecord(r record.Record, conf *config.Config) {
	client := newClient(conf)
	defer client.Close()

	added, err := client.PutRecord(context.Background(), r)
	if err != nil {
		fmt.Printf("failed to put record: %s\n", err.Error())
		os.Exit(1)
	}

	b, _ := yaml.Marshal(putOutput{Added: added})
	fmt.Println(string(b))
}

func newClient(conf *config.Config) *client.Client {
	// The URL has already been validated in conf.
	url, _ := url.Parse(conf.Server.URL)
	return client.NewClient(url, client.WithTimeout(conf.Server.Timeout))
}

// parseFilters parses filters in the form '<field>=<value>'.
func parseFilters(filters []string) (map[string]string, error) {
	parsed := make(map[string]string)
	for _, f := range filters {
		field, value, ok := strings.Cut(f, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("%s: expected <field>=<value>", f)
		}
		parsed[field] = value
	}
	return parsed, nil
}

// readRecord reads a JSON object. Numbers are kept as written.
func readRecord(r io.Reader) (record.Record, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var rec record.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("not a json object")
	}
	return rec, nil
}
