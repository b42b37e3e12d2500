package services

import "context"

// recordAudit writes a trail entry on a best-effort basis. Audit storage
// problems never fail the operation being audited.
func recordAudit(ctx context.Context, audit *AuditService, entry AuditEntry) {
	if audit == nil {
		return
	}
	_ = audit.Log(ctx, entry)
}
