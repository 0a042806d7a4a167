package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// The result ledger is hash-chained so a stored score cannot be edited
// after the fact without breaking every later record.

// LedgerSeed returns the prev_hash for the first record in the ledger.
func LedgerSeed() string {
	hash := sha256.Sum256([]byte("agentproctor.result-ledger"))
	return hex.EncodeToString(hash[:])
}

// RecordHash computes the SHA-256 hash for a session record, chaining to
// the previous record's hash.
func RecordHash(rec *SessionRecord) string {
	data := fmt.Sprintf("%s|%s|%s|%.4f|%.4f|%.4f|%t|%s|%s",
		rec.ID,
		rec.TestID,
		rec.AgentID,
		rec.Score,
		rec.SecurityScore,
		rec.WorkflowScore,
		rec.Passed,
		strings.Join(rec.ToolCallSequence, ","),
		rec.PrevHash,
	)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// VerifyChain walks records in ledger order and checks hash integrity.
// Returns (valid, brokenAtIndex). If valid is true, all hashes check out.
func VerifyChain(records []*SessionRecord) (bool, int) {
	for i, rec := range records {
		if rec.Hash != RecordHash(rec) {
			return false, i
		}
		if i == 0 {
			if rec.PrevHash != LedgerSeed() {
				return false, i
			}
			continue
		}
		if rec.PrevHash != records[i-1].Hash {
			return false, i
		}
	}
	return true, -1
}
