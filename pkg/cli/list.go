package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

func newListRpmsCommand() *Command {
	return &Command{
		Name:        "list-rpms",
		Description: "List packages, optionally scoped to one tag",
		Run:         runListRpms,
	}
}

func runListRpms(args []string) error {
	fs := flag.NewFlagSet("list-rpms", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "subatomic-server base URL")
	tag := fs.String("tag", "", "restrict the listing to this tag's available packages")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := newAPIClient(*server)
	path := "/rpms"
	if *tag != "" {
		path = "/repo/" + *tag + "/rpms"
	}

	var refs []json.RawMessage
	if err := client.doJSON("GET", path, nil, &refs); err != nil {
		return err
	}
	return printJSONLines(refs)
}

func newListTagsCommand() *Command {
	return &Command{
		Name:        "list-tags",
		Description: "List every tag",
		Run:         runListTags,
	}
}

func runListTags(args []string) error {
	fs := flag.NewFlagSet("list-tags", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "subatomic-server base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := newAPIClient(*server)
	var tags []json.RawMessage
	if err := client.doJSON("GET", "/repos", nil, &tags); err != nil {
		return err
	}
	return printJSONLines(tags)
}

func printJSONLines(items []json.RawMessage) error {
	enc := json.NewEncoder(os.Stdout)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("print result: %w", err)
		}
	}
	return nil
}
