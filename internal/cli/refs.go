package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	analysisDomain "github.com/pendergraft/whichdex/internal/analysis/domain"
	"github.com/pendergraft/whichdex/pkg/client"
)

func createRefsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "refs",
		Aliases: []string{"references"},
		Short:   "Manage reference fingerprints on the server",
		Long: `Reference fingerprints are named fingerprints of known pool implementations.
Matching a contract against them names the closest known implementation.`,
	}

	cmd.AddCommand(createRefsListCmd())
	cmd.AddCommand(createRefsGetCmd())
	cmd.AddCommand(createRefsAddCmd())
	cmd.AddCommand(createRefsDeleteCmd())
	cmd.AddCommand(createRefsMatchCmd())

	return cmd
}

func createRefsListCmd() *cobra.Command {
	var opts client.ListReferencesOptions
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reference fingerprints",
		Long: `List reference fingerprints.

EXAMPLES:
  whichdex refs list
  whichdex refs list --protocol UniswapV3 --chain-id 8453
  whichdex refs list --query aero --all
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefsList(cmd.Context(), cmd.OutOrStdout(), newClient(), opts, all)
		},
	}

	cmd.Flags().StringVar(&opts.Protocol, "protocol", "", "filter by protocol")
	cmd.Flags().Int64Var(&opts.ChainID, "chain-id", 0, "filter by chain id")
	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "filter by name substring")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "page size (server default when 0)")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "cursor from a previous page")
	cmd.Flags().BoolVar(&all, "all", false, "follow cursors until every page is read")

	return cmd
}

func runRefsList(ctx context.Context, w io.Writer, c *client.Client, opts client.ListReferencesOptions, all bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var refs []client.Reference
	var next string
	for {
		resp, err := c.ListReferences(ctx, opts)
		if err != nil {
			return fmt.Errorf("failed to list references: %w", err)
		}
		refs = append(refs, resp.Data...)
		next = ""
		if resp.Pagination.HasMore {
			next = resp.Pagination.NextCursor
		}
		if !all || next == "" {
			break
		}
		opts.Cursor = next
	}

	if jsonOutput {
		if refs == nil {
			refs = []client.Reference{}
		}
		return printJSON(w, map[string]any{"data": refs, "nextCursor": next})
	}

	if len(refs) == 0 {
		fmt.Fprintln(w, "No references found")
		return nil
	}
	renderReferences(w, refs)
	if next != "" {
		fmt.Fprintf(w, "\n(showing %d references, more with --cursor %s)\n", len(refs), next)
	}
	return nil
}

func createRefsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one reference fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ref, err := newClient().GetReference(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), ref)
			}
			renderReference(cmd.OutOrStdout(), ref)
			return nil
		},
	}
}

func createRefsAddCmd() *cobra.Command {
	var req client.RegisterReferenceRequest

	cmd := &cobra.Command{
		Use:   "add <address|0xbytecode|file>",
		Short: "Register a reference fingerprint",
		Long: `Fingerprint a known pool implementation and store it on the server.

An address is fetched by the server through --rpc-url (or its default RPC).
Bytecode, hex files and artifacts are sent inline. Without --protocol the
server classifies the code itself.

EXAMPLES:
  whichdex refs add 0xPool --name aerodrome-slipstream --chain-id 8453 --rpc-url https://mainnet.base.org
  whichdex refs add out/UniswapV3Pool.sol/UniswapV3Pool.json --name uniswap-v3 --chain-id 1 --protocol UniswapV3
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := parseSource(args[0])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("chain-id") {
				if config := loadProjectConfigSilent(); config != nil && config.ChainID != 0 {
					req.ChainID = config.ChainID
				}
			}
			return runRefsAdd(cmd.Context(), cmd.OutOrStdout(), newClient(), getRPCURL(), src, req)
		},
	}

	cmd.Flags().StringVar(&req.Name, "name", "", "reference name (required)")
	cmd.Flags().Int64Var(&req.ChainID, "chain-id", 0, "chain id the implementation is deployed on")
	cmd.Flags().StringVar(&req.Protocol, "protocol", "", "protocol label (classified when omitted)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func runRefsAdd(ctx context.Context, w io.Writer, c *client.Client, rpc string, src codeSource, req client.RegisterReferenceRequest) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.ChainID <= 0 {
		return fmt.Errorf("--chain-id is required")
	}

	if src.OnChain() {
		req.Address = src.Address
		req.RPCURL = rpc
	} else {
		req.Bytecode = src.Hex()
	}

	ref, err := c.RegisterReference(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to register reference: %w", err)
	}

	if jsonOutput {
		return printJSON(w, ref)
	}
	fmt.Fprintf(w, "Registered %s (%s)\n", ref.Name, ref.ID)
	renderReference(w, ref)
	return nil
}

func createRefsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete reference fingerprints",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefsDelete(cmd.Context(), cmd.OutOrStdout(), newClient(), args)
		},
	}
}

func runRefsDelete(ctx context.Context, w io.Writer, c *client.Client, ids []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var failCount int
	for _, id := range ids {
		if err := c.DeleteReference(ctx, id); err != nil {
			fmt.Fprintf(w, "   X %s: %v\n", id, err)
			failCount++
			continue
		}
		fmt.Fprintf(w, "   OK %s\n", id)
	}

	if failCount > 0 {
		return fmt.Errorf("deleted %d reference(s), %d failed", len(ids)-failCount, failCount)
	}
	return nil
}

func createRefsMatchCmd() *cobra.Command {
	var fingerprint string
	var limit int

	cmd := &cobra.Command{
		Use:   "match [address|0xbytecode|file]",
		Short: "Find references similar to a contract",
		Long: `Fingerprint a contract locally and ask the server for the closest references.

EXAMPLES:
  whichdex refs match 0xPool --rpc-url https://mainnet.base.org
  whichdex refs match --fingerprint T1A3...
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fingerprint == "" {
				if len(args) == 0 {
					return fmt.Errorf("pass a contract or --fingerprint")
				}
				src, err := parseSource(args[0])
				if err != nil {
					return err
				}
				fingerprint, err = localFingerprint(cmd.Context(), newAnalyzer(cmd), getRPCURL(), src)
				if err != nil {
					return err
				}
			}
			return runRefsMatch(cmd.Context(), cmd.OutOrStdout(), newClient(), fingerprint, limit)
		},
	}

	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "fingerprint hash to match instead of a contract")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum matches (server default when 0)")

	return cmd
}

// localFingerprint analyzes src and returns its fingerprint hash. For a
// resolved proxy this is the implementation's fingerprint.
func localFingerprint(ctx context.Context, svc analyzer, rpc string, src codeSource) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var report *analysisDomain.AnalyzeReport
	var err error
	if src.OnChain() {
		if rpc == "" {
			return "", errRPCRequired
		}
		report, err = svc.AnalyzeAddress(ctx, rpc, src.Address)
	} else {
		report, err = svc.AnalyzeCode(ctx, rpc, "", src.Code)
	}
	if err != nil {
		return "", err
	}

	if report.Analysis.Fingerprint == nil {
		return "", fmt.Errorf("cannot fingerprint %s: %s", src.Label, report.Analysis.FingerprintError)
	}
	return report.Analysis.Fingerprint.Hash, nil
}

func runRefsMatch(ctx context.Context, w io.Writer, c *client.Client, fingerprint string, limit int) error {
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := c.MatchReferences(ctx, fingerprint, limit)
	if err != nil {
		return fmt.Errorf("failed to match references: %w", err)
	}

	if jsonOutput {
		return printJSON(w, result)
	}
	fmt.Fprintf(w, "fingerprint: %s\n\n", result.Fingerprint)
	renderMatches(w, result)
	return nil
}
