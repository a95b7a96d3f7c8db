package session

import "strings"

// cleanupScript resets the browser's network state through the benchmarking
// extension (available with --enable-benchmarking). Preserving the cache only
// drops the predictor and open connections.
func cleanupScript(preserveCache bool) string {
	calls := []string{"clearCache", "clearHostResolverCache", "clearPredictorCache", "closeConnections"}
	if preserveCache {
		calls = []string{"clearPredictorCache", "closeConnections"}
	}

	var b strings.Builder
	b.WriteString("(function(){var b=(window.chrome||{}).benchmarking||{},x;")
	for _, c := range calls {
		b.WriteString("x=b." + c + ";x&&x.call(b);")
	}
	b.WriteString("})()")
	return b.String()
}
