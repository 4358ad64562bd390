package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	analysisDomain "github.com/pendergraft/whichdex/internal/analysis/domain"
	"github.com/pendergraft/whichdex/pkg/client"
)

func createCompareCmd() *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "compare <a> <b>",
		Short: "Compare two contracts by structure and fingerprint distance",
		Long: `Compare two contracts. Each side is an address, 0x bytecode, a hex file,
or an artifact JSON. Minimal proxies are resolved when an RPC URL is set.

The result reports an exact, metadata-only, or push-data-only match and the
fingerprint distance with its similarity tier.

EXAMPLES:
  whichdex compare 0xPoolA 0xPoolB --rpc-url https://mainnet.base.org
  whichdex compare out/Pool.sol/Pool.json 0xPoolA
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseSource(args[0])
			if err != nil {
				return err
			}
			b, err := parseSource(args[1])
			if err != nil {
				return err
			}
			if remote {
				return runCompareRemote(cmd.Context(), cmd.OutOrStdout(), newClient(), getRPCURL(), a, b)
			}
			return runCompare(cmd.Context(), cmd.OutOrStdout(), newAnalyzer(cmd), getRPCURL(), a, b)
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "compare on the whichdex server instead of locally")

	return cmd
}

func toCodeSource(rpc string, src codeSource) analysisDomain.CodeSource {
	if src.OnChain() {
		return analysisDomain.CodeSource{RPCURL: rpc, Address: src.Address}
	}
	return analysisDomain.CodeSource{RPCURL: rpc, Bytecode: src.Hex()}
}

func runCompare(ctx context.Context, w io.Writer, svc analyzer, rpc string, a, b codeSource) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if rpc == "" && needsRPC([]codeSource{a, b}) {
		return errRPCRequired
	}

	report, err := svc.Compare(ctx, analysisDomain.CompareRequest{
		A: toCodeSource(rpc, a),
		B: toCodeSource(rpc, b),
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(w, report)
	}
	renderCompareReport(w, report)
	return nil
}

func runCompareRemote(ctx context.Context, w io.Writer, c *client.Client, rpc string, a, b codeSource) error {
	if ctx == nil {
		ctx = context.Background()
	}

	side := func(src codeSource) client.AnalyzeRequest {
		if src.OnChain() {
			return client.AnalyzeRequest{RPCURL: rpc, Address: src.Address}
		}
		return client.AnalyzeRequest{RPCURL: rpc, Bytecode: src.Hex()}
	}

	report, err := c.Compare(ctx, client.CompareRequest{A: side(a), B: side(b)})
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(w, report)
	}
	fmt.Fprintf(w, "match:       %t (%s)\n", report.Match, report.MatchType)
	if report.Distance != nil {
		fmt.Fprintf(w, "distance:    %d\n", *report.Distance)
		fmt.Fprintf(w, "similarity:  %s\n", report.Similarity)
	}
	return nil
}
