package hotkey

import (
	"testing"
	"time"
)

func waitAction(t *testing.T, tr *Trigger, want Action) {
	t.Helper()
	select {
	case got := <-tr.Actions():
		if got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func TestTriggerHold(t *testing.T) {
	fk := NewFake()
	threshold := 50 * time.Millisecond
	tr := NewTrigger(fk, threshold)
	defer tr.Close()

	fk.SimKeydown()
	waitAction(t, tr, StartListening)
	time.Sleep(threshold + 20*time.Millisecond)
	fk.SimKeyup()
	waitAction(t, tr, StopListening)
}

func TestTriggerTap(t *testing.T) {
	fk := NewFake()
	tr := NewTrigger(fk, 200*time.Millisecond)
	defer tr.Close()

	fk.SimKeydown()
	waitAction(t, tr, StartListening)
	fk.SimKeyup()

	select {
	case a := <-tr.Actions():
		t.Fatalf("unexpected %s after a tap, should still be listening", a)
	case <-time.After(50 * time.Millisecond):
	}

	fk.SimKeydown()
	fk.SimKeyup()
	waitAction(t, tr, StopListening)
}

func TestTriggerCycles(t *testing.T) {
	fk := NewFake()
	threshold := 50 * time.Millisecond
	tr := NewTrigger(fk, threshold)
	defer tr.Close()

	fk.SimKeydown()
	waitAction(t, tr, StartListening)
	time.Sleep(threshold + 20*time.Millisecond)
	fk.SimKeyup()
	waitAction(t, tr, StopListening)

	fk.SimKeydown()
	waitAction(t, tr, StartListening)
	fk.SimKeyup()
	time.Sleep(20 * time.Millisecond)
	fk.SimKeydown()
	fk.SimKeyup()
	waitAction(t, tr, StopListening)
}

func TestTriggerClose(t *testing.T) {
	fk := NewFake()
	tr := NewTrigger(fk, time.Second)
	tr.Close()
	tr.Close()

	fk.SimKeydown()
	select {
	case a := <-tr.Actions():
		t.Fatalf("unexpected %s after close", a)
	case <-time.After(50 * time.Millisecond):
	}
}
