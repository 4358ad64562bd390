package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	analysisDomain "github.com/pendergraft/whichdex/internal/analysis/domain"
	"github.com/pendergraft/whichdex/pkg/client"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func renderAnalyzeReport(w io.Writer, label string, r *analysisDomain.AnalyzeReport) {
	tw := newTable(w)
	fmt.Fprintf(tw, "source:\t%s\n", label)
	if r.IsEIP1167Proxy {
		fmt.Fprintf(tw, "eip1167_proxy:\ttrue\n")
		fmt.Fprintf(tw, "implementation:\t%s\n", r.ImplementationAddress)
		if r.ProxyAnalysis == nil {
			fmt.Fprintf(tw, "note:\timplementation not fetched (no RPC URL), proxy analyzed\n")
		}
	}
	renderBytecodeAnalysis(tw, r.Analysis)
	fmt.Fprintf(tw, "selector_table:\t%s\n", r.SelectorTableVersion)
	tw.Flush()
}

func renderBytecodeAnalysis(tw *tabwriter.Writer, a analysisDomain.BytecodeAnalysis) {
	fmt.Fprintf(tw, "protocol:\t%s\n", a.Protocol)
	if len(a.Candidates) > 0 {
		names := make([]string, len(a.Candidates))
		for i, c := range a.Candidates {
			names[i] = fmt.Sprintf("%s(%d)", c.Protocol, c.Confidence)
		}
		fmt.Fprintf(tw, "candidates:\t%s\n", strings.Join(names, ", "))
	}
	fmt.Fprintf(tw, "pool_likely:\t%t\n", a.IsPoolLikely)
	fmt.Fprintf(tw, "code_size:\t%d\n", a.CodeSize)
	if a.Fingerprint != nil {
		fmt.Fprintf(tw, "fingerprint:\t%s\n", a.Fingerprint.Hash)
		fmt.Fprintf(tw, "digest_version:\t%s\n", a.Fingerprint.Version)
		fmt.Fprintf(tw, "normalized_size:\t%d\n", a.Fingerprint.NormalizedSize)
	} else if a.FingerprintError != "" {
		fmt.Fprintf(tw, "fingerprint_error:\t%s\n", a.FingerprintError)
	}
	fmt.Fprintf(tw, "selectors:\t%d\n", len(a.Selectors))
}

func renderRemoteReport(w io.Writer, label string, r *client.AnalyzeReport) {
	tw := newTable(w)
	fmt.Fprintf(tw, "source:\t%s\n", label)
	if r.IsEIP1167Proxy {
		fmt.Fprintf(tw, "eip1167_proxy:\ttrue\n")
		fmt.Fprintf(tw, "implementation:\t%s\n", r.ImplementationAddress)
	}
	a := r.Analysis
	fmt.Fprintf(tw, "protocol:\t%s\n", a.Protocol)
	fmt.Fprintf(tw, "pool_likely:\t%t\n", a.IsPoolLikely)
	fmt.Fprintf(tw, "code_size:\t%d\n", a.CodeSize)
	if a.Fingerprint != nil {
		fmt.Fprintf(tw, "fingerprint:\t%s\n", a.Fingerprint.Hash)
	} else if a.FingerprintError != "" {
		fmt.Fprintf(tw, "fingerprint_error:\t%s\n", a.FingerprintError)
	}
	fmt.Fprintf(tw, "selector_table:\t%s\n", r.SelectorTableVersion)
	tw.Flush()
}

func renderCompareReport(w io.Writer, r *analysisDomain.CompareReport) {
	tw := newTable(w)
	renderCompareSide(tw, "a", r.A)
	renderCompareSide(tw, "b", r.B)
	fmt.Fprintf(tw, "match:\t%t (%s)\n", r.Match, r.MatchType)
	fmt.Fprintf(tw, "message:\t%s\n", r.Message)
	if r.Distance != nil {
		fmt.Fprintf(tw, "distance:\t%d\n", *r.Distance)
		fmt.Fprintf(tw, "similarity:\t%s\n", r.Similarity)
		fmt.Fprintf(tw, "same_family_likely:\t%t\n", r.SameFamilyLikely)
	}
	if r.FingerprintErr != "" {
		fmt.Fprintf(tw, "fingerprint_error:\t%s\n", r.FingerprintErr)
	}
	tw.Flush()
}

func renderCompareSide(tw *tabwriter.Writer, name string, s analysisDomain.CompareSide) {
	if s.Address != "" {
		fmt.Fprintf(tw, "%s.address:\t%s\n", name, s.Address)
	}
	if s.ImplementationAddress != "" {
		fmt.Fprintf(tw, "%s.implementation:\t%s\n", name, s.ImplementationAddress)
	}
	fmt.Fprintf(tw, "%s.protocol:\t%s\n", name, s.Protocol)
	fmt.Fprintf(tw, "%s.code_size:\t%d\n", name, s.CodeSize)
}

func renderReferences(w io.Writer, refs []client.Reference) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tPROTOCOL\tCHAIN\tADDRESS")
	for _, r := range refs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.Name, r.Protocol, r.ChainID, r.Address)
	}
	tw.Flush()
}

func renderReference(w io.Writer, r *client.Reference) {
	tw := newTable(w)
	fmt.Fprintf(tw, "id:\t%s\n", r.ID)
	fmt.Fprintf(tw, "name:\t%s\n", r.Name)
	fmt.Fprintf(tw, "protocol:\t%s\n", r.Protocol)
	fmt.Fprintf(tw, "chain_id:\t%d\n", r.ChainID)
	if r.Address != "" {
		fmt.Fprintf(tw, "address:\t%s\n", r.Address)
	}
	fmt.Fprintf(tw, "fingerprint:\t%s\n", r.Fingerprint)
	fmt.Fprintf(tw, "digest_version:\t%s\n", r.DigestVersion)
	fmt.Fprintf(tw, "created_at:\t%s\n", r.CreatedAt)
	tw.Flush()
}

func renderMatches(w io.Writer, m *client.MatchResult) {
	if len(m.Matches) == 0 {
		fmt.Fprintln(w, "No similar references")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "NAME\tPROTOCOL\tCHAIN\tDISTANCE\tSIMILARITY")
	for _, match := range m.Matches {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
			match.Reference.Name, match.Reference.Protocol, match.Reference.ChainID, match.Distance, match.Similarity)
	}
	tw.Flush()
}
