// Package rpmmeta is the thin adapter over the RPM file format: parsing
// metadata for ingest and applying an OpenPGP signature for the signing
// workflow. All actual header/payload parsing is delegated to
// github.com/sassoftware/go-rpmutils; this package only shapes its output
// into the repo package's vocabulary.
package rpmmeta

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/sassoftware/go-rpmutils"
)

// RawDependency is one provides/requires entry as read straight off the
// RPM header, before flag-name resolution.
type RawDependency struct {
	Name    string
	Version string
	Flags   uint32
}

// Metadata is the subset of an RPM header this module cares about.
type Metadata struct {
	Name     string
	Epoch    uint32
	Version  string
	Release  string
	Arch     string
	Provides []RawDependency
	Requires []RawDependency
}

// Parse opens the RPM at path and extracts its Metadata.
func Parse(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rpmmeta: open %s: %w", path, err)
	}
	defer f.Close()

	hdr, err := rpmutils.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("rpmmeta: read header %s: %w", path, err)
	}

	nevra, err := hdr.GetNEVRA()
	if err != nil {
		return nil, fmt.Errorf("rpmmeta: read nevra %s: %w", path, err)
	}

	var epoch uint32
	if nevra.Epoch != "" && nevra.Epoch != "0" {
		if _, err := fmt.Sscanf(nevra.Epoch, "%d", &epoch); err != nil {
			return nil, fmt.Errorf("rpmmeta: parse epoch %q: %w", nevra.Epoch, err)
		}
	}

	provides, err := readDependencies(hdr, rpmutils.PROVIDENAME, rpmutils.PROVIDEVERSION, rpmutils.PROVIDEFLAGS)
	if err != nil {
		return nil, fmt.Errorf("rpmmeta: read provides %s: %w", path, err)
	}
	requires, err := readDependencies(hdr, rpmutils.REQUIRENAME, rpmutils.REQUIREVERSION, rpmutils.REQUIREFLAGS)
	if err != nil {
		return nil, fmt.Errorf("rpmmeta: read requires %s: %w", path, err)
	}

	return &Metadata{
		Name:     nevra.Name,
		Epoch:    epoch,
		Version:  nevra.Version,
		Release:  nevra.Release,
		Arch:     nevra.Arch,
		Provides: provides,
		Requires: requires,
	}, nil
}

func readDependencies(hdr *rpmutils.RpmHeader, nameTag, versionTag, flagsTag int) ([]RawDependency, error) {
	names, err := hdr.GetStrings(nameTag)
	if err != nil {
		// Many packages carry no provides/requires entries at all; an
		// absent tag is not a parse failure.
		return nil, nil
	}
	versions, _ := hdr.GetStrings(versionTag)
	flags, _ := hdr.GetUint32s(flagsTag)

	deps := make([]RawDependency, len(names))
	for i, name := range names {
		dep := RawDependency{Name: name}
		if i < len(versions) {
			dep.Version = versions[i]
		}
		if i < len(flags) {
			dep.Flags = flags[i]
		}
		deps[i] = dep
	}
	return deps, nil
}

// Sign loads the RPM at localPath, applies entity as an in-place header
// signer, and returns the signed package bytes.
func Sign(localPath string, entity *openpgp.Entity) ([]byte, error) {
	staged, err := os.CreateTemp("", "subatomic-sign-*.rpm")
	if err != nil {
		return nil, fmt.Errorf("rpmmeta: create signing scratch file: %w", err)
	}
	stagedPath := staged.Name()
	defer os.Remove(stagedPath)

	src, err := os.Open(localPath)
	if err != nil {
		staged.Close()
		return nil, fmt.Errorf("rpmmeta: open %s: %w", localPath, err)
	}
	if _, err := io.Copy(staged, src); err != nil {
		src.Close()
		staged.Close()
		return nil, fmt.Errorf("rpmmeta: stage copy of %s: %w", localPath, err)
	}
	src.Close()
	if err := staged.Close(); err != nil {
		return nil, fmt.Errorf("rpmmeta: close signing scratch file: %w", err)
	}

	if err := rpmutils.SignRpmFile(stagedPath, entity.PrivateKey, time.Now(), rpmutils.SignatureOptions{}); err != nil {
		return nil, fmt.Errorf("rpmmeta: sign %s: %w", localPath, err)
	}

	signed, err := os.ReadFile(stagedPath)
	if err != nil {
		return nil, fmt.Errorf("rpmmeta: read signed output: %w", err)
	}
	return signed, nil
}
