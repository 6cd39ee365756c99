package progressbar

import (
	"bytes"
	"strings"
	"testing"
)

func TestManualProgressBar(t *testing.T) {
	var buf bytes.Buffer
	p := NewManualProgressBar(&buf, 10, 4)
	for i := 0; i < 6; i++ {
		p.Increment()
	}
	if p.Progress() != 1 {
		t.Errorf("progress \n\twant(1)\n\thave(%v)", p.Progress())
	}

	p.SetStatus("return: %.1f", 2.5)
	p.Display()
	out := buf.String()
	if !strings.Contains(out, "100.00%") || !strings.Contains(out, "return: 2.5") {
		t.Errorf("display \n\twant(100.00%% and status)\n\thave(%q)", out)
	}
	if n := strings.Count(out, "█"); n != 10 {
		t.Errorf("filled width \n\twant(10)\n\thave(%v)", n)
	}
}
