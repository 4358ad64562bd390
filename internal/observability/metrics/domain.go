package metrics

import "strconv"

// Analysis records a completed contract analysis.
func Analysis(protocol string, proxy bool) {
	if !enabled {
		return
	}
	analysisTotal.WithLabelValues(protocol, strconv.FormatBool(proxy)).Inc()
}

// Compare records a bytecode comparison.
func Compare(matchType string) {
	if !enabled {
		return
	}
	compareTotal.WithLabelValues(matchType).Inc()
}

// RPCFetchError records a failed bytecode fetch.
func RPCFetchError() {
	if !enabled {
		return
	}
	rpcFetchErrors.Inc()
}

// ReferenceRegister records a reference registration attempt.
func ReferenceRegister(protocol, status string) {
	if !enabled {
		return
	}
	referenceRegisterTotal.WithLabelValues(protocol, status).Inc()
}

// ReferenceMatch records a match query by its closest tier ("none" when nothing matched).
func ReferenceMatch(similarity string) {
	if !enabled {
		return
	}
	referenceMatchTotal.WithLabelValues(similarity).Inc()
}
