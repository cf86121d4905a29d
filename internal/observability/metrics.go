package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
	MLockAcquisitions        MetricKey = "lock_acquire_total"
	MInvariantViolations     MetricKey = "invariant_violations_total"
	MStockDepletions         MetricKey = "stock_depleted_total"
)
