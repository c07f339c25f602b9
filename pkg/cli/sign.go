package cli

import (
	"flag"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/FyraLabs/subatomic-ng/pkg/rpmmeta"
)

func newSignCommand() *Command {
	return &Command{
		Name:        "sign",
		Description: "Sign a local .rpm file with an armored secret key",
		Run:         runSign,
	}
}

func runSign(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	keyPath := fs.String("key", "", "path to an armored OpenPGP secret key")
	out := fs.String("out", "", "output path for the signed package (defaults to <input>.signed.rpm)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keyPath == "" {
		return fmt.Errorf("sign: -key is required")
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("sign: expected exactly one .rpm path argument")
	}
	rpmPath := fs.Arg(0)

	keyFile, err := os.Open(*keyPath)
	if err != nil {
		return fmt.Errorf("open key %s: %w", *keyPath, err)
	}
	defer keyFile.Close()

	entities, err := openpgp.ReadArmoredKeyRing(keyFile)
	if err != nil {
		return fmt.Errorf("parse armored key %s: %w", *keyPath, err)
	}
	if len(entities) == 0 {
		return fmt.Errorf("sign: %s contains no keys", *keyPath)
	}

	signed, err := rpmmeta.Sign(rpmPath, entities[0])
	if err != nil {
		return fmt.Errorf("sign %s: %w", rpmPath, err)
	}

	outPath := *out
	if outPath == "" {
		outPath = rpmPath + ".signed.rpm"
	}
	if err := os.WriteFile(outPath, signed, 0o644); err != nil {
		return fmt.Errorf("write signed package to %s: %w", outPath, err)
	}

	fmt.Printf("wrote signed package to %s\n", outPath)
	return nil
}
