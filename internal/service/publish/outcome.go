package publish

// Kind tells the caller what to do after a publish attempt.
type Kind int

const (
	// KindPublished means URL holds the remote location of the image.
	KindPublished Kind = iota
	// KindFallbackNeeded means the remote host did not take the image and the
	// caller should keep it locally. Err holds the reason.
	KindFallbackNeeded
	// KindFatal means the publisher itself is misconfigured.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindPublished:
		return "published"
	case KindFallbackNeeded:
		return "fallback_needed"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the result of Publish.
type Outcome struct {
	Kind          Kind
	URL           string
	CorrelationID string
	Attempts      int
	Err           error
}

func published(url, correlationID string, attempts int) Outcome {
	return Outcome{Kind: KindPublished, URL: url, CorrelationID: correlationID, Attempts: attempts}
}

func fallbackNeeded(err error, correlationID string, attempts int) Outcome {
	return Outcome{Kind: KindFallbackNeeded, Err: err, CorrelationID: correlationID, Attempts: attempts}
}

func fatal(err error, correlationID string) Outcome {
	return Outcome{Kind: KindFatal, Err: err, CorrelationID: correlationID}
}
