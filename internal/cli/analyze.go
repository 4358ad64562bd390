package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	analysisDomain "github.com/pendergraft/whichdex/internal/analysis/domain"
	"github.com/pendergraft/whichdex/pkg/client"
)

// analyzeResult is one entry of a batch analysis.
type analyzeResult struct {
	Source string                        `json:"source"`
	Report *analysisDomain.AnalyzeReport `json:"report,omitempty"`
	Error  string                        `json:"error,omitempty"`
}

func createAnalyzeCmd() *cobra.Command {
	var flags sourceFlags
	var concurrency int
	var remote bool

	cmd := &cobra.Command{
		Use:   "analyze [address|0xbytecode|file]...",
		Short: "Identify the DEX protocol of pool contracts",
		Long: `Identify which DEX protocol pool contracts implement.

Addresses are fetched over --rpc-url and analyzed concurrently. EIP-1167
minimal proxies are followed to their implementation. Bytecode can also be
given inline, as a hex file, or as a Foundry/Hardhat artifact, in which case
no RPC is needed.

EXAMPLES:
  # Analyze a pool on Base
  whichdex analyze 0xd0b53D9277642d899DF5C87A3966A349A798F224 --rpc-url https://mainnet.base.org

  # Analyze several pools, eight at a time
  whichdex analyze --address 0x... --address 0x... --concurrency 8

  # Analyze a compiled artifact offline
  whichdex analyze --artifact out/UniswapV3Pool.sol/UniswapV3Pool.json

  # Let the server do the work
  whichdex analyze 0x... --remote
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := flags.collect(args)
			if err != nil {
				return err
			}
			if len(sources) == 0 {
				return fmt.Errorf("nothing to analyze: pass an address, bytecode, --file or --artifact")
			}
			if remote {
				return runAnalyzeRemote(cmd.Context(), cmd.OutOrStdout(), newClient(), getRPCURL(), sources)
			}
			if !cmd.Flags().Changed("concurrency") {
				concurrency = getConcurrency(concurrency)
			}
			return runAnalyze(cmd.Context(), cmd.OutOrStdout(), newAnalyzer(cmd), getRPCURL(), sources, concurrency)
		},
	}

	cmd.Flags().StringArrayVar(&flags.addresses, "address", nil, "contract address (repeatable)")
	cmd.Flags().StringArrayVar(&flags.artifacts, "artifact", nil, "Foundry or Hardhat artifact JSON (repeatable)")
	cmd.Flags().StringArrayVar(&flags.files, "file", nil, "file containing runtime bytecode hex (repeatable)")
	cmd.Flags().StringArrayVar(&flags.bytecode, "bytecode", nil, "runtime bytecode hex (repeatable)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "addresses fetched in parallel")
	cmd.Flags().BoolVar(&remote, "remote", false, "analyze on the whichdex server instead of locally")

	return cmd
}

func runAnalyze(ctx context.Context, w io.Writer, svc analyzer, rpc string, sources []codeSource, concurrency int) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if rpc == "" && needsRPC(sources) {
		return errRPCRequired
	}

	results := make([]analyzeResult, len(sources))

	// On-chain sources go through the batch path together
	var addresses []string
	var addressIdx []int
	for i, src := range sources {
		results[i].Source = src.Label
		if src.OnChain() {
			addresses = append(addresses, src.Address)
			addressIdx = append(addressIdx, i)
			continue
		}
		report, err := svc.AnalyzeCode(ctx, rpc, src.Address, src.Code)
		results[i].Report = report
		if err != nil {
			results[i].Error = err.Error()
		}
	}

	if len(addresses) > 0 {
		for j, r := range svc.AnalyzeMany(ctx, rpc, addresses, concurrency) {
			i := addressIdx[j]
			results[i].Report = r.Report
			if r.Err != nil {
				results[i].Error = r.Err.Error()
			}
		}
	}

	if err := writeAnalyzeResults(w, results); err != nil {
		return err
	}
	return batchError(results)
}

var errRPCRequired = errors.New("--rpc-url (or WHICHDEX_RPC_URL) is required to analyze addresses")

func needsRPC(sources []codeSource) bool {
	for _, src := range sources {
		if src.OnChain() {
			return true
		}
	}
	return false
}

func writeAnalyzeResults(w io.Writer, results []analyzeResult) error {
	if jsonOutput {
		if len(results) == 1 && results[0].Error == "" {
			return printJSON(w, results[0].Report)
		}
		return printJSON(w, results)
	}

	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if r.Error != "" {
			fmt.Fprintf(w, "source:  %s\nerror:   %s\n", r.Source, r.Error)
			continue
		}
		renderAnalyzeReport(w, r.Source, r.Report)
	}
	return nil
}

func batchError(results []analyzeResult) error {
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}
	if len(results) == 1 {
		return fmt.Errorf("analysis failed: %s", results[0].Error)
	}
	return fmt.Errorf("%d of %d analyses failed", failed, len(results))
}

func runAnalyzeRemote(ctx context.Context, w io.Writer, c *client.Client, rpc string, sources []codeSource) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var reports []*client.AnalyzeReport
	for _, src := range sources {
		req := client.AnalyzeRequest{RPCURL: rpc, Address: src.Address}
		if !src.OnChain() {
			req.Bytecode = src.Hex()
		}
		report, err := c.Analyze(ctx, req)
		if err != nil {
			return fmt.Errorf("%s: %w", src.Label, err)
		}
		reports = append(reports, report)
	}

	if jsonOutput {
		if len(reports) == 1 {
			return printJSON(w, reports[0])
		}
		return printJSON(w, reports)
	}
	for i, r := range reports {
		if i > 0 {
			fmt.Fprintln(w)
		}
		renderRemoteReport(w, sources[i].Label, r)
	}
	return nil
}
