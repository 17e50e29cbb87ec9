package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"akiba/internal/amqp"
	"akiba/internal/core"
)

type sentSMS struct{ phone, text string }

type fakeSender struct {
	sent []sentSMS
	err  error
}

func (f *fakeSender) Send(_ context.Context, phone, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentSMS{phone, text})
	return nil
}

type fakeMirror struct {
	rows     []core.LedgerEntry
	existing map[string]bool
	err      error
}

func (f *fakeMirror) AppendSaving(_ context.Context, e core.LedgerEntry) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if err := e.Validate(); err != nil {
		return "", err
	}
	f.rows = append(f.rows, e)
	return "Savings!A2:H2", nil
}

func (f *fakeMirror) HasSaving(_ context.Context, id string, _ int) (bool, error) {
	return f.existing[id], nil
}

func TestHandleTopUpStatusSendsSMS(t *testing.T) {
	sms := &fakeSender{}
	w := NewEventWorker(sms, nil)

	msg := amqp.TopUpStatusMessage{Reference: "R1", Status: "SUCCESSFUL", Amount: "5000", Currency: "UGX", PhoneNumber: "256772123456"}
	if err := w.HandleTopUpStatus(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(sms.sent) != 1 || sms.sent[0].phone != "256772123456" || !strings.Contains(sms.sent[0].text, "5000 UGX") {
		t.Fatalf("unexpected sms %+v", sms.sent)
	}
}

func TestHandleTopUpStatusSkips(t *testing.T) {
	tests := []struct {
		name string
		msg  amqp.TopUpStatusMessage
	}{
		{"pending", amqp.TopUpStatusMessage{Reference: "R1", Status: "PENDING", Amount: "1", PhoneNumber: "256772123456"}},
		{"unknown status", amqp.TopUpStatusMessage{Reference: "R1", Status: "ONGOING", Amount: "1", PhoneNumber: "256772123456"}},
		{"no phone", amqp.TopUpStatusMessage{Reference: "R1", Status: "FAILED", Amount: "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sms := &fakeSender{}
			if err := NewEventWorker(sms, nil).HandleTopUpStatus(context.Background(), tt.msg); err != nil {
				t.Fatalf("handle: %v", err)
			}
			if len(sms.sent) != 0 {
				t.Fatalf("no sms expected, got %+v", sms.sent)
			}
		})
	}
}

func TestHandleTopUpStatusSurfacesSendFailure(t *testing.T) {
	w := NewEventWorker(&fakeSender{err: core.ErrUpstreamUnavailable}, nil)
	msg := amqp.TopUpStatusMessage{Reference: "R1", Status: "FAILED", Amount: "10", Currency: "UGX", PhoneNumber: "256772123456"}
	if err := w.HandleTopUpStatus(context.Background(), msg); !errors.Is(err, core.ErrUpstreamUnavailable) {
		t.Fatalf("expected send failure to surface for requeue, got %v", err)
	}
}

func TestHandleSavingRecordedMirrors(t *testing.T) {
	mirror := &fakeMirror{existing: map[string]bool{}}
	w := NewEventWorker(nil, mirror)
	msg := amqp.SavingRecordedMessage{
		ID: "s1", UserID: "u1", Amount: "5000", Source: "momo", TopUpReference: "R1",
		CreatedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	if err := w.HandleSavingRecorded(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(mirror.rows) != 1 || mirror.rows[0].DedupKey != "momo:R1" {
		t.Fatalf("unexpected rows %+v", mirror.rows)
	}

	mirror.existing["s1"] = true
	if err := w.HandleSavingRecorded(context.Background(), msg); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(mirror.rows) != 1 {
		t.Fatalf("redelivered event must not add a second row")
	}
}

func TestHandleSavingRecordedErrors(t *testing.T) {
	w := NewEventWorker(nil, &fakeMirror{err: errors.New("quota exceeded")})
	msg := amqp.SavingRecordedMessage{ID: "s1", UserID: "u1", Amount: "5", Source: "manual"}
	if err := w.HandleSavingRecorded(context.Background(), msg); err == nil {
		t.Fatal("expected mirror error")
	}

	msg.Amount = "five"
	if err := w.HandleSavingRecorded(context.Background(), msg); err == nil {
		t.Fatal("expected amount parse error")
	}

	if err := NewEventWorker(nil, nil).HandleSavingRecorded(context.Background(), msg); err != nil {
		t.Fatalf("no mirror configured should be a no-op, got %v", err)
	}
}
