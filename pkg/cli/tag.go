package cli

import (
	"flag"
	"fmt"
)

type createTagRequest struct {
	Name string `json:"name"`
}

func newCreateTagCommand() *Command {
	return &Command{
		Name:        "create-tag",
		Description: "Create a new repository tag",
		Run:         runCreateTag,
	}
}

func runCreateTag(args []string) error {
	fs := flag.NewFlagSet("create-tag", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "subatomic-server base URL")
	name := fs.String("name", "", "tag name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("create-tag: -name is required")
	}

	client := newAPIClient(*server)
	var created map[string]interface{}
	if err := client.doJSON("POST", "/repo", createTagRequest{Name: *name}, &created); err != nil {
		return err
	}
	fmt.Printf("created tag %s\n", *name)
	return nil
}

func newAssembleCommand() *Command {
	return &Command{
		Name:        "assemble",
		Description: "Stage and publish a tag's repository tree",
		Run:         runAssemble,
	}
}

func runAssemble(args []string) error {
	fs := flag.NewFlagSet("assemble", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "subatomic-server base URL")
	tag := fs.String("tag", "", "tag to assemble")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tag == "" {
		return fmt.Errorf("assemble: -tag is required")
	}

	client := newAPIClient(*server)
	var compose map[string]interface{}
	if err := client.doJSON("POST", "/repo/"+*tag+"/assemble", nil, &compose); err != nil {
		return err
	}
	fmt.Printf("assembled tag %s: compose %v\n", *tag, compose["id"])
	return nil
}
