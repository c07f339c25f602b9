package cli

import (
	"flag"
	"fmt"
)

func newPushCommand() *Command {
	return &Command{
		Name:        "push",
		Description: "Upload an .rpm file to a tag",
		Run:         runPush,
	}
}

func runPush(args []string) error {
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "subatomic-server base URL")
	tag := fs.String("tag", "", "tag to publish the package under")
	prune := fs.Bool("prune", false, "mark the uploaded package available, demoting earlier builds of the same name and arch in the tag")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tag == "" {
		return fmt.Errorf("push: -tag is required")
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("push: expected exactly one .rpm path argument")
	}

	client := newAPIClient(*server)
	if err := client.uploadRPM(*tag, fs.Arg(0), *prune); err != nil {
		return err
	}
	fmt.Printf("uploaded %s to tag %s\n", fs.Arg(0), *tag)
	return nil
}
