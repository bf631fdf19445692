package enums

// CallbackAuditReason explains why a callback was kept for security review
// instead of reaching the reconciliation core.
type CallbackAuditReason string

const (
	CallbackAuditSignatureInvalid CallbackAuditReason = "signature_invalid"
	CallbackAuditUnknownReference CallbackAuditReason = "unknown_reference"
	CallbackAuditMalformed        CallbackAuditReason = "malformed_payload"
)
