package export

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/tgmirror/tgmirror/internal/database"
)

// DedupeKey selects how duplicate records are identified when deduplication
// is enabled.
type DedupeKey string

const (
	// DedupeKeyContentHash collapses records sharing the stored content
	// hash, keeping the lowest message id. This is the default.
	DedupeKeyContentHash DedupeKey = "content_hash"

	// DedupeKeyText collapses records with identical cleaned text.
	DedupeKeyText DedupeKey = "text"

	// DedupeKeyTextSender additionally distinguishes senders.
	DedupeKeyTextSender DedupeKey = "text+sender"

	// DedupeKeyTextSenderDay additionally distinguishes calendar days.
	DedupeKeyTextSenderDay DedupeKey = "text+sender+day"
)

// Options holds the recognized export filter configuration.
type Options struct {
	// MinChars drops records whose cleaned text is shorter than the
	// threshold. Applies to JSONL rendering only.
	MinChars int

	// SkipHashtagOnly drops records whose cleaned text consists solely of
	// hashtag tokens. Applies to JSONL rendering only.
	SkipHashtagOnly bool

	// IncludeDeleted keeps soft-deleted records in the export.
	IncludeDeleted bool

	// IncludeService keeps service/system records in the export.
	IncludeService bool

	// Dedupe collapses duplicate records, keeping the first (lowest
	// message id) occurrence within the export scope.
	Dedupe bool

	// DedupeKey selects the duplicate criterion; empty means content hash.
	DedupeKey DedupeKey
}

func (o Options) dedupeKey() DedupeKey {
	if o.DedupeKey == "" {
		return DedupeKeyContentHash
	}
	return o.DedupeKey
}

// Validate rejects unknown dedupe keys.
func (o Options) Validate() error {
	switch o.dedupeKey() {
	case DedupeKeyContentHash, DedupeKeyText, DedupeKeyTextSender, DedupeKeyTextSenderDay:
		return nil
	default:
		return fmt.Errorf("unknown dedupe key %q", o.DedupeKey)
	}
}

// dedupeDigest computes the duplicate-detection key for a record. Records
// are visited in ascending message id order, so keeping the first
// occurrence keeps the lowest id.
func dedupeDigest(key DedupeKey, m *database.Message, cleaned string) string {
	if key == DedupeKeyContentHash {
		return m.ContentHash
	}

	parts := []string{cleaned}
	if key == DedupeKeyTextSender || key == DedupeKeyTextSenderDay {
		switch {
		case m.SenderUsername.Valid:
			parts = append(parts, m.SenderUsername.String)
		case m.SenderID.Valid:
			parts = append(parts, strconv.FormatInt(m.SenderID.Int64, 10))
		default:
			parts = append(parts, "")
		}
	}
	if key == DedupeKeyTextSenderDay {
		parts = append(parts, m.Date.UTC().Format("2006-01-02"))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])
}
