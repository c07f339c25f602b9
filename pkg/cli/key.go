package cli

import (
	"flag"
	"fmt"
)

type createKeyRequest struct {
	UserID      string  `json:"user_id"`
	Description *string `json:"description,omitempty"`
}

func newKeygenCommand() *Command {
	return &Command{
		Name:        "keygen",
		Description: "Generate a new signing key on the server",
		Run:         runKeygen,
	}
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "subatomic-server base URL")
	userID := fs.String("user-id", "", "OpenPGP identity, e.g. \"Release Engineering <releng@example.com>\"")
	description := fs.String("description", "", "optional free-text description")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("keygen: -user-id is required")
	}

	req := createKeyRequest{UserID: *userID}
	if *description != "" {
		req.Description = description
	}

	client := newAPIClient(*server)
	var key map[string]interface{}
	if err := client.doJSON("POST", "/key", req, &key); err != nil {
		return err
	}
	fmt.Printf("generated key %v for %s\n", key["id"], *userID)
	fmt.Println(key["public_key"])
	return nil
}
