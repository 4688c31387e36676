package recognizer

import (
	"sync"
	"testing"
)

func intentRecognizer(t *testing.T, svc *fakeService) *IntentRecognizer {
	t.Helper()
	dialer := &scriptedDialer{outcomes: []dialOutcome{{svc: svc}}}
	ir, err := NewIntentRecognizer(&countingAuth{}, &WebSocketFactory{Dialer: dialer.dial}, audioSource(t, 3200), Config{
		Region: "westus",
		AppID:  "luis-app-1",
	})
	if err != nil {
		t.Fatalf("NewIntentRecognizer: %v", err)
	}
	t.Cleanup(ir.Close)
	return ir
}

func TestIntentRecognizer_PhraseWithResponse(t *testing.T) {
	t.Parallel()
	intentJSON := `{"topScoringIntent":{"intent":"TurnOnLights","score":0.98}}`
	svc := newFakeService(t)
	svc.endOfAudio = func(sendText func(path, body string), _ func(string, []byte)) {
		sendText("speech.phrase", `{"RecognitionStatus":"Success","DisplayText":"turn on the lights","Offset":0,"Duration":0}`)
		sendText("response", intentJSON)
		sendText("turn.end", "{}")
	}
	ir := intentRecognizer(t, svc)

	var mu sync.Mutex
	var finals []IntentResult
	ir.OnRecognized(func(r IntentResult) { mu.Lock(); finals = append(finals, r); mu.Unlock() })

	result, err := ir.Recognize(testCtx(t), "").Wait(testCtx(t))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v (%s)", result.Status, result.ErrorDetails)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(finals) != 1 {
		t.Fatalf("final results = %+v", finals)
	}
	if finals[0].Reason != ReasonRecognizedIntent {
		t.Errorf("reason = %v", finals[0].Reason)
	}
	if finals[0].Text != "turn on the lights" {
		t.Errorf("text = %q", finals[0].Text)
	}
	if finals[0].IntentJSON != intentJSON {
		t.Errorf("intent json = %q", finals[0].IntentJSON)
	}
}

func TestIntentRecognizer_FlushesPhraseWithoutResponse(t *testing.T) {
	t.Parallel()
	svc := newFakeService(t)
	svc.endOfAudio = func(sendText func(path, body string), _ func(string, []byte)) {
		sendText("speech.phrase", `{"RecognitionStatus":"Success","DisplayText":"hello there","Offset":0,"Duration":0}`)
		sendText("turn.end", "{}")
	}
	ir := intentRecognizer(t, svc)

	var mu sync.Mutex
	var finals []IntentResult
	ir.OnRecognized(func(r IntentResult) { mu.Lock(); finals = append(finals, r); mu.Unlock() })

	result, err := ir.Recognize(testCtx(t), "").Wait(testCtx(t))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v (%s)", result.Status, result.ErrorDetails)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(finals) != 1 {
		t.Fatalf("final results = %+v, want the held phrase flushed at turn end", finals)
	}
	if finals[0].Text != "hello there" || finals[0].IntentJSON != "" {
		t.Errorf("flushed result = %+v", finals[0])
	}
}
