package threading

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/steveyegge/messaged/internal/idgen"
)

// SynthesizeMessageID produces a "generated_{ts}_{rand}" id for a message
// whose source omitted a Message-ID header, so such messages can still be
// referenced by later In-Reply-To/References.
func SynthesizeMessageID() string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("generated_%d_%s", time.Now().UnixNano(), hex.EncodeToString(buf[:]))
}

// DeriveMessageID is the deterministic counterpart of SynthesizeMessageID:
// same "generated_{ts}_{suffix}" shape, but the timestamp is the message's
// own date and the suffix a hash of seed, so re-deriving from the identical
// message yields the identical id. Ingest paths use this so a redelivered
// id-less message deduplicates instead of forking.
func DeriveMessageID(dateUnixMs int64, seed string) string {
	return fmt.Sprintf("generated_%d_%s", dateUnixMs, idgen.HashPrefix(seed)[:8])
}
