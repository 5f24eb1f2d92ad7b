package contract

import (
	"github.com/hilthontt/escrow/internal/domain"
	"github.com/hilthontt/escrow/internal/infrastructure/sign"
)

// SignatureAudit is the per-party result of re-verifying a contract.
type SignatureAudit struct {
	Party                  domain.Party    `json:"party"`
	Decision               domain.Decision `json:"decision,omitempty"`
	Verified               bool            `json:"verified"`
	CryptographicallyValid bool            `json:"cryptographically_verified"`
	Note                   string          `json:"note,omitempty"`
}

// VerifyAll re-checks every stored signature against the registered keys.
// A timeout record is reported as verified for tallying but never as
// cryptographically valid.
func VerifyAll(c domain.Contract) []SignatureAudit {
	out := make([]SignatureAudit, 0, len(domain.Parties))

	for _, p := range domain.Parties {
		r := c.Signatures.For(p)
		a := SignatureAudit{
			Party:    p,
			Decision: r.Decision,
			Verified: r.Verified,
		}

		switch {
		case r.Implicit():
			a.Note = domain.TimeoutNote
		case r.Signature == "":
			a.Note = "not signed"
		default:
			sig, err := sign.DecodeHex(r.Signature)
			if err == nil {
				err = sign.Verify(c.PublicKeys.For(p), c.Message(p, r.Decision), sig)
			}
			a.CryptographicallyValid = err == nil
			if err != nil {
				a.Note = "signature does not verify"
			}
		}

		out = append(out, a)
	}

	return out
}
