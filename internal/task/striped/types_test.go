package striped

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSubmittedEventEncodesZeroStarted(t *testing.T) {
	t.Parallel()
	b, err := json.Marshal(TaskEvent{Scheduler: "s", Key: "k", Group: "g"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"started":"0001-01-01T00:00:00Z"`) {
		t.Fatalf("started missing or unexpected: %s", b)
	}
}
