// Command atrepo-cat decodes an AT Protocol repository CAR file and
// prints its records as newline-delimited JSON, one line per record.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/oyin-bo/atrepo/internal/dagcbor"
	"github.com/oyin-bo/atrepo/internal/repo"
)

// line is one NDJSON record emitted to stdout.
type line struct {
	Type       string `json:"type"`
	Collection string `json:"collection,omitempty"`
	Rkey       string `json:"rkey,omitempty"`
	CID        string `json:"cid"`
}

func main() {
	app := &cli.App{
		Name:  "atrepo-cat",
		Usage: "decode an AT Protocol repository CAR file to NDJSON",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "collection",
				Aliases: []string{"c"},
				Usage:   "only emit records from this collection (e.g. app.bsky.feed.post)",
			},
			&cli.BoolFlag{
				Name:  "allow-root-fallback",
				Usage: "if the CAR root is not a commit, use it as the MST root when it is an MST node, else scan for the one unreferenced MST node",
			},
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "fail if a record's CID has no corresponding MST entry, instead of emitting it without collection/rkey",
			},
			&cli.IntFlag{
				Name:  "max-mst-depth",
				Value: 64,
				Usage: "maximum MST recursion depth before giving up",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "stop after emitting this many records (0 = no limit)",
			},
			&cli.StringFlag{
				Name:  "unknown-cbor-tags",
				Value: "reject",
				Usage: "policy for CBOR tags outside the restricted dialect: reject or skip",
			},
		},
		ArgsUsage: "[path-to.car]",
		Action:    run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	buf, err := readInput(c.Args().First())
	if err != nil {
		return fmt.Errorf("reading CAR: %w", err)
	}

	policy := dagcbor.RejectUnknownTags
	if c.String("unknown-cbor-tags") == "skip" {
		policy = dagcbor.SkipUnknownTags
	}

	view, err := repo.NewView(buf, repo.Options{
		AllowRootFallback:    c.Bool("allow-root-fallback"),
		StrictReconciliation: c.Bool("strict"),
		CollectionFilter:     c.String("collection"),
		MaxMSTDepth:          c.Int("max-mst-depth"),
		UnknownCBORTagPolicy: policy,
		Limit:                c.Int("limit"),
	})
	if err != nil {
		return fmt.Errorf("draining CAR: %w", err)
	}

	records, err := view.RecordsWithPath()
	if err != nil {
		return fmt.Errorf("walking repository: %w", err)
	}

	collection := c.String("collection")

	enc := json.NewEncoder(os.Stdout)
	for _, rec := range records {
		// CollectionFilter above only scopes path reconciliation; the
		// output filter is this command's own, applied on the decoded
		// $type.
		if collection != "" && rec.Type != collection {
			continue
		}
		out := line{Type: rec.Type, CID: rec.CID.String()}
		if rec.Path != nil {
			out.Collection = rec.Path.Collection
			out.Rkey = rec.Path.Rkey
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
	}
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
