package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	analysisDomain "github.com/pendergraft/whichdex/internal/analysis/domain"
	"github.com/pendergraft/whichdex/internal/chains/evm"
)

type selectorRow struct {
	Signature string `json:"signature"`
	Selector  string `json:"selector"`
	Present   *bool  `json:"present,omitempty"`
}

type selectorReport struct {
	TableVersion string        `json:"tableVersion"`
	Selectors    []selectorRow `json:"selectors"`
	// Extracted holds every PUSH4 operand when code was given.
	Extracted []string `json:"extracted,omitempty"`
}

func createSelectorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "selectors [address|0xbytecode|file]",
		Short: "Show the pool selector table",
		Long: `Show the selectors the protocol templates are built from.

With a source, each selector is marked present or absent in its bytecode and
every PUSH4 operand found in the dispatcher is listed.

EXAMPLES:
  whichdex selectors
  whichdex selectors 0xPool --rpc-url https://mainnet.base.org
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var code []byte
			if len(args) == 1 {
				src, err := parseSource(args[0])
				if err != nil {
					return err
				}
				code, err = loadCode(cmd.Context(), newFetcher(), getRPCURL(), src)
				if err != nil {
					return err
				}
			}
			return runSelectors(cmd.OutOrStdout(), code)
		},
	}

	return cmd
}

// loadCode returns the bytecode of src, following a minimal proxy when the
// code is fetched over RPC.
func loadCode(ctx context.Context, fetcher analysisDomain.CodeFetcher, rpc string, src codeSource) ([]byte, error) {
	if !src.OnChain() {
		return src.Code, nil
	}
	if rpc == "" {
		return nil, errRPCRequired
	}
	if ctx == nil {
		ctx = context.Background()
	}
	fetch := func(address string) ([]byte, error) {
		code, err := fetcher.GetDeployedBytecode(ctx, rpc, address)
		if err != nil {
			return nil, err
		}
		if len(code) == 0 {
			return nil, fmt.Errorf("%w: %s", analysisDomain.ErrNoDeployedCode, address)
		}
		return code, nil
	}

	code, err := fetch(src.Address)
	if err != nil {
		return nil, err
	}
	if target, ok := evm.MinimalProxyTarget(code); ok {
		return fetch(target.Hex())
	}
	return code, nil
}

func runSelectors(w io.Writer, code []byte) error {
	report := selectorReport{TableVersion: evm.SelectorTableVersion}
	for _, ns := range evm.KnownSelectors() {
		row := selectorRow{Signature: ns.Signature, Selector: ns.Selector.String()}
		if code != nil {
			present := ns.Selector.In(code)
			row.Present = &present
		}
		report.Selectors = append(report.Selectors, row)
	}
	if code != nil {
		report.Extracted = []string{}
		for _, sel := range evm.ExtractSelectors(code) {
			report.Extracted = append(report.Extracted, sel.String())
		}
	}

	if jsonOutput {
		return printJSON(w, report)
	}

	fmt.Fprintf(w, "Selector table %s\n\n", report.TableVersion)
	tw := newTable(w)
	if code != nil {
		fmt.Fprintln(tw, "SELECTOR\tSIGNATURE\tPRESENT")
	} else {
		fmt.Fprintln(tw, "SELECTOR\tSIGNATURE")
	}
	for _, row := range report.Selectors {
		if row.Present != nil {
			fmt.Fprintf(tw, "%s\t%s\t%t\n", row.Selector, row.Signature, *row.Present)
		} else {
			fmt.Fprintf(tw, "%s\t%s\n", row.Selector, row.Signature)
		}
	}
	tw.Flush()

	if code != nil {
		fmt.Fprintf(w, "\n%d PUSH4 operand(s) in bytecode\n", len(report.Extracted))
	}
	return nil
}
