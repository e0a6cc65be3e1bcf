package crawl

// Classify maps a raw fetch result onto an Outcome. It is a pure function:
// the fetcher has already resolved the site-specific no-record marker, so
// the mapping here is mechanical. Anything ambiguous or unknown classifies
// as failed, which keeps it on the retry path instead of silently marking
// the case absent.
func Classify(res FetchResult) Outcome {
	switch res.Status {
	case FetchStatusOK:
		if len(res.Payload) == 0 {
			// An "ok" fetch with no content is not a well-formed record.
			return OutcomeFailed
		}
		return OutcomeSuccess
	case FetchStatusNoRecord:
		return OutcomeNoRecord
	default:
		return OutcomeFailed
	}
}
