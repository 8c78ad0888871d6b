package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	shell "github.com/ipfs/go-ipfs-api"

	"kycvault/internal/proof"
)

// Adder is the part of the IPFS HTTP client used for uploads. *shell.Shell
// satisfies it.
type Adder interface {
	Add(r io.Reader, options ...shell.AddOpts) (string, error)
}

// IPFS pins documents on an IPFS node. The CID is the locator; the content hash is
// still SHA-256 so it stays comparable across backends.
type IPFS struct {
	adder Adder
}

// NewIPFS connects to the node's HTTP API, e.g. "localhost:5001".
func NewIPFS(apiURL string) *IPFS {
	return &IPFS{adder: shell.NewShell(apiURL)}
}

func NewIPFSWithAdder(adder Adder) *IPFS {
	return &IPFS{adder: adder}
}

func (s *IPFS) Put(ctx context.Context, name, _ string, content []byte) (proof.Blob, error) {
	if err := ctx.Err(); err != nil {
		return proof.Blob{}, err
	}
	cid, err := s.adder.Add(bytes.NewReader(content), shell.Pin(true))
	if err != nil {
		return proof.Blob{}, fmt.Errorf("ipfs add %s: %w", name, err)
	}
	return proof.Blob{
		Hash:    proof.HashContent(content),
		Locator: "ipfs://" + cid,
		Size:    int64(len(content)),
	}, nil
}
