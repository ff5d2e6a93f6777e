package monitoring

import (
	"errors"
	"testing"
	"time"
)

type fakeMonitor struct {
	captured []error
	tags     map[string]string
}

func (f *fakeMonitor) CaptureException(err error, tags map[string]string) {
	f.captured = append(f.captured, err)
	f.tags = tags
}
func (f *fakeMonitor) Recover()            {}
func (f *fakeMonitor) Flush(time.Duration) {}

func TestInitAndCapture(t *testing.T) {
	f := &fakeMonitor{}
	Init(f)
	defer Init(nil)

	CaptureException(nil, nil)
	CaptureException(errors.New("boom"), map[string]string{"run_id": "r1"})
	if len(f.captured) != 1 || f.tags["run_id"] != "r1" {
		t.Fatalf("unexpected capture %+v", f)
	}

	Init(nil)
	if _, ok := Current().(NopMonitor); !ok {
		t.Fatalf("expected NopMonitor after reset, got %T", Current())
	}
}
