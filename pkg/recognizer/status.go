package recognizer

// CompletionStatus classifies the terminal outcome of one recognition
// session.
type CompletionStatus int

const (
	StatusSuccess CompletionStatus = iota
	StatusAudioSourceError
	StatusAudioSourceTimeout
	StatusAuthTokenFetchError
	StatusAuthTokenFetchTimeout
	StatusUnAuthorized
	StatusConnectTimeout
	StatusConnectError
	StatusClientRecognitionActivityTimeout
	StatusUnknownError
)

func (s CompletionStatus) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusAudioSourceError:
		return "AudioSourceError"
	case StatusAudioSourceTimeout:
		return "AudioSourceTimeout"
	case StatusAuthTokenFetchError:
		return "AuthTokenFetchError"
	case StatusAuthTokenFetchTimeout:
		return "AuthTokenFetchTimeout"
	case StatusUnAuthorized:
		return "UnAuthorized"
	case StatusConnectTimeout:
		return "ConnectTimeout"
	case StatusConnectError:
		return "ConnectError"
	case StatusClientRecognitionActivityTimeout:
		return "ClientRecognitionActivityTimeout"
	case StatusUnknownError:
		return "UnknownError"
	}
	return "UnknownError"
}

// CompletionResult is what a Recognize promise settles with: a status plus
// optional error detail. The promise resolves with this even on failure —
// errors never surface as rejections at the public boundary.
type CompletionResult struct {
	Status       CompletionStatus
	ErrorDetails string
}

// CancellationReason tells a canceled-callback consumer why recognition
// stopped.
type CancellationReason int

const (
	// CancelledError means recognition stopped due to an error.
	CancelledError CancellationReason = iota

	// CancelledEndOfStream means the audio stream ran out.
	CancelledEndOfStream
)

func (r CancellationReason) String() string {
	if r == CancelledEndOfStream {
		return "EndOfStream"
	}
	return "Error"
}

// CancellationCode refines a cancellation with a coarse error class.
type CancellationCode int

const (
	CancellationNoError CancellationCode = iota
	CancellationConnectionFailure
	CancellationServiceError
)

func (c CancellationCode) String() string {
	switch c {
	case CancellationConnectionFailure:
		return "ConnectionFailure"
	case CancellationServiceError:
		return "ServiceError"
	}
	return "NoError"
}
