package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestProgressBar_NonTTYPrintsOnlyOnCompletion(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(4, "items")
	p.SetWriter(buf)

	p.Step("com.a")
	p.Step("com.b")
	if buf.Len() != 0 {
		t.Errorf("partial progress wrote %q, want nothing off a terminal", buf.String())
	}

	p.Step("com.c")
	p.Step("com.d")
	out := buf.String()
	if !strings.Contains(out, "100%") || !strings.Contains(out, "com.d") {
		t.Errorf("completion line = %q, want 100%% and the last label", out)
	}

	p.Finish()
	if n := strings.Count(buf.String(), "\n"); n != 1 {
		t.Errorf("Finish() after completion wrote %d lines, want 1", n)
	}
}

func TestProgressBar_FinishWhenIncomplete(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(10, "catalog")
	p.SetWriter(buf)

	p.Step("")
	p.Finish()
	if !strings.Contains(buf.String(), "100% catalog") {
		t.Errorf("Finish() output = %q, want a 100%% line with the original label", buf.String())
	}
}

func TestProgressBar_Report(t *testing.T) {
	tests := []struct {
		fraction float64
		want     int
	}{
		{0, 0},
		{0.25, 25},
		{0.5, 50},
		{1, 100},
		{1.7, 100},
		{-1, 0},
	}
	for _, tt := range tests {
		p := NewProgress(100, "")
		p.SetWriter(&bytes.Buffer{})
		p.Report(tt.fraction)
		if p.current != tt.want {
			t.Errorf("Report(%v) current = %d, want %d", tt.fraction, p.current, tt.want)
		}
	}
}

func TestProgressBar_RenderFinished(t *testing.T) {
	tests := []struct {
		total, width int
		want         string
	}{
		{0, 4, "[    ]   0%"},
		{4, 4, "[===>] 100%"},
		{3, 6, "[=====>] 100%"},
	}
	for _, tt := range tests {
		buf := &bytes.Buffer{}
		p := &ProgressBar{total: tt.total, current: tt.total, width: tt.width, writer: buf}
		p.render()
		if !strings.HasPrefix(buf.String(), tt.want) {
			t.Errorf("render() = %q, want prefix %q", buf.String(), tt.want)
		}
	}
}

func TestProgressBar_Concurrent(t *testing.T) {
	p := NewProgress(100, "")
	p.SetWriter(&bytes.Buffer{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				p.Step("")
			}
		}()
	}
	wg.Wait()

	if p.current != 100 {
		t.Errorf("current = %d after 100 concurrent steps, want 100", p.current)
	}
}

func TestSpinner_NonTTY(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewSpinner("Rebuilding catalog")
	s.SetWriter(buf)

	s.Start()
	s.Start()
	s.UpdateMessage("ignored off a terminal")
	s.Stop()
	s.Stop()

	if got := buf.String(); got != "Rebuilding catalog...\n" {
		t.Errorf("spinner output = %q, want the message printed once", got)
	}
}

func TestSpinner_StopWithMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewSpinner("Working")
	s.SetWriter(buf)
	s.Start()
	s.StopWithMessage("Done")

	if !strings.HasSuffix(buf.String(), "Done\n") {
		t.Errorf("output = %q, want final message", buf.String())
	}
}

func TestWriterIsTTY_Buffer(t *testing.T) {
	if writerIsTTY(&bytes.Buffer{}) {
		t.Error("writerIsTTY(*bytes.Buffer) = true, want false")
	}
}
