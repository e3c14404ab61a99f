package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/twzrd/attention-oracle-go/pkg/epochcache"
	"github.com/twzrd/attention-oracle-go/pkg/leaf"
	"github.com/twzrd/attention-oracle-go/pkg/merkle"
	"github.com/twzrd/attention-oracle-go/pkg/types"
	"github.com/twzrd/attention-oracle-go/pkg/util"
)

func main() {
	app := &cli.App{
		Name:  "epoch-proof",
		Usage: "Offline merkle tooling for sealed epoch snapshots",
		Description: `A command line tool for working with sealed epoch snapshots without a running oracle server.

This tool can:
- Rebuild the merkle root of a snapshot file and check it against the recorded root
- Generate inclusion proofs for a participant by index or user hash
- Verify a proof file or a raw leaf/siblings/root triple
- Compute claim leaf hashes for ring and open distributions`,
		Version: "1.0.0",
		Commands: []*cli.Command{
			{
				Name:  "root",
				Usage: "Rebuild the merkle root of a snapshot and compare with the recorded root",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "snapshot",
						Usage:    "Path to a sealed snapshot JSON file",
						Required: true,
					},
				},
				Action: rootCommand,
			},
			{
				Name:  "proof",
				Usage: "Generate an inclusion proof for one participant of a snapshot",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "snapshot",
						Usage:    "Path to a sealed snapshot JSON file",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "index",
						Usage: "Participant index to prove (mutually exclusive with --user)",
						Value: -1,
					},
					&cli.StringFlag{
						Name:  "user",
						Usage: "User hash to prove, 0x-prefixed hex (mutually exclusive with --index)",
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "Output file for the proof JSON",
						Value: "",
					},
				},
				Action: proofCommand,
			},
			{
				Name:  "verify",
				Usage: "Verify a proof file or a raw leaf/siblings/root triple",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "proof",
						Usage: "Path to a proof JSON file produced by the proof command",
					},
					&cli.StringFlag{
						Name:  "leaf",
						Usage: "Leaf hash, 0x-prefixed hex (raw mode)",
					},
					&cli.StringFlag{
						Name:  "root",
						Usage: "Expected root, 0x-prefixed hex (raw mode)",
					},
					&cli.StringFlag{
						Name:  "siblings",
						Usage: "Comma-separated sibling hashes, 0x-prefixed hex; empty for a single-leaf tree (raw mode)",
					},
				},
				Action: verifyCommand,
			},
			{
				Name:  "claim-leaf",
				Usage: "Compute the claim leaf hash for a claimer entitlement",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "claimer",
						Usage:    "Claimer account key, base58",
						Required: true,
					},
					&cli.UintFlag{
						Name:     "index",
						Usage:    "Frozen claim index within the epoch",
						Required: true,
					},
					&cli.Uint64Flag{
						Name:     "amount",
						Usage:    "Raw token amount, no decimal scaling",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "id",
						Usage: "Distribution id (open variant only)",
					},
					&cli.StringFlag{
						Name:  "variant",
						Usage: "Claim variant: ring or open",
						Value: "ring",
					},
				},
				Action: claimLeafCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// proofFile is the serialized proof format. It matches the oracle server's
// proof endpoint payload so files written here can be checked against
// server responses field by field.
type proofFile struct {
	Channel  string   `json:"channel"`
	Epoch    uint64   `json:"epoch"`
	Index    uint32   `json:"index"`
	UserHash string   `json:"user_hash"`
	Root     string   `json:"root"`
	Siblings []string `json:"siblings"`
}

// loadSnapshot reads a sealed snapshot JSON file from disk.
func loadSnapshot(path string) (*types.SealedSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	snap, err := epochcache.UnmarshalSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot file: %w", err)
	}
	return snap, nil
}

// participationTree rebuilds the merkle tree over a snapshot's participants
// in their frozen index order.
func participationTree(snap *types.SealedSnapshot) (*merkle.MerkleTree, error) {
	leaves := make([][32]byte, len(snap.Participants))
	for i, p := range snap.Participants {
		leaves[i] = leaf.ComputeParticipationLeaf(p.UserHash, snap.Channel, snap.Epoch)
	}

	tree, err := merkle.BuildMerkleTree(leaves)
	if err != nil {
		return nil, fmt.Errorf("failed to build merkle tree: %w", err)
	}
	return tree, nil
}

// rootCommand handles the root subcommand
func rootCommand(c *cli.Context) error {
	snapshotFile := c.String("snapshot")

	fmt.Printf("🌳 Rebuilding merkle tree from snapshot: %s\n", snapshotFile)

	snap, err := loadSnapshot(snapshotFile)
	if err != nil {
		return err
	}

	tree, err := participationTree(snap)
	if err != nil {
		return err
	}

	fmt.Printf("  Channel:      %s\n", snap.Channel)
	fmt.Printf("  Epoch:        %d\n", snap.Epoch)
	fmt.Printf("  Participants: %d\n", len(snap.Participants))
	fmt.Printf("  Root:         %s\n", util.EncodeHash32(tree.Root))

	if tree.Root != snap.Root {
		return fmt.Errorf("rebuilt root does not match recorded root %s", util.EncodeHash32(snap.Root))
	}

	fmt.Printf("✅ Rebuilt root matches the recorded root\n")
	return nil
}

// proofCommand handles the proof subcommand
func proofCommand(c *cli.Context) error {
	snapshotFile := c.String("snapshot")
	outputFile := c.String("output")

	snap, err := loadSnapshot(snapshotFile)
	if err != nil {
		return err
	}

	// Resolve the participant to prove, by user hash or by index
	index := c.Int("index")
	if user := c.String("user"); user != "" {
		userHash, decodeErr := util.DecodeHash32(user)
		if decodeErr != nil {
			return decodeErr
		}
		index = -1
		for _, p := range snap.Participants {
			if p.UserHash == userHash {
				index = int(p.Index)
				break
			}
		}
		if index < 0 {
			return fmt.Errorf("user %s is not a participant of %s epoch %d", user, snap.Channel, snap.Epoch)
		}
	} else if index < 0 {
		return fmt.Errorf("either --index or --user is required")
	}

	fmt.Printf("🌿 Generating proof for %s epoch %d index %d\n", snap.Channel, snap.Epoch, index)

	tree, err := participationTree(snap)
	if err != nil {
		return err
	}
	if tree.Root != snap.Root {
		return fmt.Errorf("rebuilt root %s does not match recorded root %s",
			util.EncodeHash32(tree.Root), util.EncodeHash32(snap.Root))
	}

	proof, err := tree.GenerateProof(index)
	if err != nil {
		return fmt.Errorf("failed to generate proof: %w", err)
	}
	if !merkle.VerifyProof(proof, tree.Root) {
		return fmt.Errorf("generated proof failed local verification")
	}

	siblings := make([]string, len(proof.Siblings))
	for i, s := range proof.Siblings {
		siblings[i] = util.EncodeHash32(s)
	}

	out := proofFile{
		Channel:  snap.Channel,
		Epoch:    snap.Epoch,
		Index:    uint32(index),
		UserHash: util.EncodeHash32(snap.Participants[index].UserHash),
		Root:     util.EncodeHash32(tree.Root),
		Siblings: siblings,
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode proof: %w", err)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, encoded, 0644); err != nil {
			return fmt.Errorf("failed to write to file: %w", err)
		}
		fmt.Printf("✅ Proof written to: %s\n", outputFile)
	} else {
		fmt.Printf("✅ Proof:\n%s\n", string(encoded))
	}

	return nil
}

// verifyCommand handles the verify subcommand
func verifyCommand(c *cli.Context) error {
	var (
		leafHash [32]byte
		root     [32]byte
		siblings [][]byte
	)

	if proofPath := c.String("proof"); proofPath != "" {
		data, err := os.ReadFile(proofPath)
		if err != nil {
			return fmt.Errorf("failed to read proof file: %w", err)
		}
		var pf proofFile
		if err := json.Unmarshal(data, &pf); err != nil {
			return fmt.Errorf("failed to parse proof file: %w", err)
		}

		fmt.Printf("🔎 Verifying proof for %s epoch %d index %d\n", pf.Channel, pf.Epoch, pf.Index)

		// Recompute the leaf from the identity fields rather than trusting
		// a leaf stored in the file
		userHash, err := util.DecodeHash32(pf.UserHash)
		if err != nil {
			return err
		}
		leafHash = leaf.ComputeParticipationLeaf(userHash, pf.Channel, pf.Epoch)

		root, err = util.DecodeHash32(pf.Root)
		if err != nil {
			return err
		}
		siblings, err = decodeSiblings(pf.Siblings)
		if err != nil {
			return err
		}
	} else {
		if c.String("leaf") == "" || c.String("root") == "" {
			return fmt.Errorf("either --proof or both --leaf and --root are required")
		}

		fmt.Printf("🔎 Verifying raw proof\n")

		var err error
		leafHash, err = util.DecodeHash32(c.String("leaf"))
		if err != nil {
			return err
		}
		root, err = util.DecodeHash32(c.String("root"))
		if err != nil {
			return err
		}

		var parts []string
		if raw := strings.TrimSpace(c.String("siblings")); raw != "" {
			parts = strings.Split(raw, ",")
		}
		siblings, err = decodeSiblings(parts)
		if err != nil {
			return err
		}
	}

	if !merkle.VerifyProofBytes(leafHash[:], siblings, root[:]) {
		return fmt.Errorf("proof does not verify against root %s", util.EncodeHash32(root))
	}

	fmt.Printf("✅ Proof verifies against root %s\n", util.EncodeHash32(root))
	return nil
}

// claimLeafCommand handles the claim-leaf subcommand
func claimLeafCommand(c *cli.Context) error {
	variant, err := types.ParseClaimVariant(c.String("variant"))
	if err != nil {
		return err
	}

	claimer, err := util.DecodePubkey(c.String("claimer"))
	if err != nil {
		return err
	}

	claim := types.Claim{
		Claimer: claimer,
		Index:   uint32(c.Uint("index")),
		Amount:  c.Uint64("amount"),
		ID:      c.String("id"),
		Variant: variant,
	}

	fmt.Printf("🔑 Computing %s claim leaf for %s\n", variant, c.String("claimer"))

	leafHash, err := leaf.ComputeClaimLeaf(claim)
	if err != nil {
		return fmt.Errorf("failed to compute claim leaf: %w", err)
	}

	fmt.Printf("✅ Claim leaf:\n")
	fmt.Printf("  %s\n", util.EncodeHash32(leafHash))

	return nil
}

func decodeSiblings(encoded []string) ([][]byte, error) {
	siblings := make([][]byte, len(encoded))
	for i, s := range encoded {
		h, err := util.DecodeHash32(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid sibling %d: %w", i, err)
		}
		siblings[i] = h[:]
	}
	return siblings, nil
}
