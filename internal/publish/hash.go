package publish

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/SteelMorgan/logship/internal/domain"
)

// recordHash identifies a forwarded line independently of the batch that carried it,
// so redelivered batches can be collapsed at query time
func recordHash(source string, labels map[string]string, entry domain.LogEntry) string {
	h := sha256.New()

	fmt.Fprintf(h, "%s|", source)
	if entry.TimestampNanos != nil {
		fmt.Fprintf(h, "%d|", *entry.TimestampNanos)
	} else {
		fmt.Fprint(h, "-|")
	}
	fmt.Fprintf(h, "%s|", entry.Message)

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s|", k, labels[k])
	}

	return hex.EncodeToString(h.Sum(nil))
}
