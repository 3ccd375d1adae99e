package domain

// GenesisPreviousHash is the sentinel previous-hash of block 0.
const GenesisPreviousHash = "0"

// GenesisMessage is the fixed plaintext committed into block 0.
const GenesisMessage = "Genesis Block - Zero Trust Ledger Started"

// Block is one signed, mined unit of the audit chain.
//
// TimestampMS carries millisecond epoch semantics: the hash preimage
// concatenates it as a decimal integer, so stores must round-trip it
// exactly even if they persist a structured timestamp alongside.
type Block struct {
	Index        int64
	TimestampMS  int64
	PreviousHash string
	// Ciphertext is the AES-GCM encrypted AuditEvent payload.
	Ciphertext []byte
	Nonce      int64
	// MerkleRoot is a one-level content commitment over the canonicalized
	// plaintext event, computed before encryption. Not a tree.
	MerkleRoot string
	Hash       string
	// Signature is the provider's signature over Hash.
	Signature []byte
	// Source tags which writer produced the block ("primary" for the
	// gateway's own chain; mirrors preserve the tag).
	Source string
}

// VerifyReport is the result of walking the chain. Verification stops at
// the first broken block: anything after a break is unreachable evidence.
type VerifyReport struct {
	Valid       bool   `json:"valid"`
	BrokenIndex int64  `json:"brokenIndex,omitempty"`
	Error       string `json:"error,omitempty"`
}
